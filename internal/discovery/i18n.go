package discovery

import "strings"

type msgKey string

const (
	msgAlreadyActive msgKey = "already_active"
	msgExpired       msgKey = "expired"
	msgCancelled     msgKey = "cancelled"
	msgConfirm       msgKey = "confirm"
	msgAgentError    msgKey = "agent_error"
)

// Same rationale as internal/build's progress-message table: no i18n
// library appears in any complete example repo, so this is a plain map.
var messages = map[string]map[msgKey]string{
	"en": {
		msgAlreadyActive: "A setup conversation is already in progress. Reply to it, or say \"cancel\" to start over.",
		msgExpired:       "That setup session expired. Send your request again to start a new one.",
		msgCancelled:     "Setup cancelled.",
		msgConfirm:       "Here's what I'll build:\n\n%s\n\nReply \"yes\" to start, or anything else to cancel.",
		msgAgentError:    "Something went wrong gathering requirements. Please try again.",
	},
	"es": {
		msgAlreadyActive: "Ya hay una conversación de configuración en curso. Respóndele, o di \"cancelar\" para empezar de nuevo.",
		msgExpired:       "Esa sesión de configuración expiró. Envía tu solicitud de nuevo para empezar una nueva.",
		msgCancelled:     "Configuración cancelada.",
		msgConfirm:       "Esto es lo que voy a construir:\n\n%s\n\nResponde \"sí\" para comenzar, o cualquier otra cosa para cancelar.",
		msgAgentError:    "Algo salió mal reuniendo los requisitos. Por favor intenta de nuevo.",
	},
	"fr": {
		msgAlreadyActive: "Une conversation de configuration est déjà en cours. Répondez-y, ou dites \"annuler\" pour recommencer.",
		msgExpired:       "Cette session de configuration a expiré. Renvoyez votre demande pour en démarrer une nouvelle.",
		msgCancelled:     "Configuration annulée.",
		msgConfirm:       "Voici ce que je vais construire :\n\n%s\n\nRépondez \"oui\" pour commencer, ou autre chose pour annuler.",
		msgAgentError:    "Un problème est survenu lors de la collecte des exigences. Veuillez réessayer.",
	},
	"de": {
		msgAlreadyActive: "Ein Einrichtungsgespräch läuft bereits. Antworte darauf, oder sag \"abbrechen\", um neu zu beginnen.",
		msgExpired:       "Diese Einrichtungssitzung ist abgelaufen. Sende deine Anfrage erneut, um eine neue zu starten.",
		msgCancelled:     "Einrichtung abgebrochen.",
		msgConfirm:       "Das werde ich bauen:\n\n%s\n\nAntworte \"ja\" zum Starten, oder irgendetwas anderes zum Abbrechen.",
		msgAgentError:    "Beim Sammeln der Anforderungen ist etwas schiefgelaufen. Bitte versuche es erneut.",
	},
	"pt": {
		msgAlreadyActive: "Já existe uma conversa de configuração em andamento. Responda a ela, ou diga \"cancelar\" para recomeçar.",
		msgExpired:       "Essa sessão de configuração expirou. Envie sua solicitação novamente para iniciar uma nova.",
		msgCancelled:     "Configuração cancelada.",
		msgConfirm:       "Aqui está o que vou construir:\n\n%s\n\nResponda \"sim\" para começar, ou qualquer outra coisa para cancelar.",
		msgAgentError:    "Algo deu errado ao reunir os requisitos. Tente novamente.",
	},
	"ja": {
		msgAlreadyActive: "セットアップの会話はすでに進行中です。返信するか、「キャンセル」と言ってやり直してください。",
		msgExpired:       "そのセットアップセッションは期限切れです。もう一度リクエストを送って新しく始めてください。",
		msgCancelled:     "セットアップをキャンセルしました。",
		msgConfirm:       "これを作成します:\n\n%s\n\n開始するには「はい」、キャンセルするには他の返信をしてください。",
		msgAgentError:    "要件の収集中に問題が発生しました。もう一度お試しください。",
	},
	"zh": {
		msgAlreadyActive: "已有一个设置对话正在进行。请回复它，或说“取消”重新开始。",
		msgExpired:       "该设置会话已过期。请重新发送您的请求以开始新的会话。",
		msgCancelled:     "已取消设置。",
		msgConfirm:       "我将构建以下内容：\n\n%s\n\n回复“是”开始，或回复其他任何内容取消。",
		msgAgentError:    "收集需求时出了点问题，请重试。",
	},
	"vi": {
		msgAlreadyActive: "Một cuộc trò chuyện thiết lập đang diễn ra. Hãy trả lời nó, hoặc nói \"hủy\" để bắt đầu lại.",
		msgExpired:       "Phiên thiết lập đó đã hết hạn. Gửi lại yêu cầu của bạn để bắt đầu một phiên mới.",
		msgCancelled:     "Đã hủy thiết lập.",
		msgConfirm:       "Đây là những gì tôi sẽ xây dựng:\n\n%s\n\nTrả lời \"có\" để bắt đầu, hoặc bất cứ điều gì khác để hủy.",
		msgAgentError:    "Đã xảy ra lỗi khi thu thập yêu cầu. Vui lòng thử lại.",
	},
}

func localize(lang string, key msgKey) string {
	table, ok := messages[lang]
	if !ok {
		table = messages["en"]
	}
	msg, ok := table[key]
	if !ok {
		msg = messages["en"][key]
	}
	return msg
}

// cancelKeywords lists, per language, the words that cancel an in-progress
// discovery session when they appear anywhere in the user's reply.
var cancelKeywords = map[string][]string{
	"en": {"cancel", "stop", "nevermind", "never mind"},
	"es": {"cancelar", "cancela", "olvídalo"},
	"fr": {"annuler", "arrête", "laisse tomber"},
	"de": {"abbrechen", "stopp", "vergiss es"},
	"pt": {"cancelar", "cancela", "esquece"},
	"ja": {"キャンセル", "やめて", "中止"},
	"zh": {"取消", "停止", "算了"},
	"vi": {"hủy", "dừng lại", "thôi"},
}

// isCancellation reports whether message contains a cancellation keyword in
// lang (falling back to English keywords, since users often type English
// commands regardless of their configured reply language).
func isCancellation(lang, message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range cancelKeywords[lang] {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	if lang != "en" {
		for _, kw := range cancelKeywords["en"] {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

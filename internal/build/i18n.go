package build

// progressKey names a stage of a run, independent of language.
type progressKey string

const (
	progressPhaseStart  progressKey = "phase_start"
	progressPhaseRetry  progressKey = "phase_retry"
	progressQAFailed    progressKey = "qa_failed"
	progressReviewWarn  progressKey = "review_warn"
	progressBuildDone   progressKey = "build_done"
	progressBuildFailed progressKey = "build_failed"
)

// No i18n library appears anywhere in the retrieved example pack (only in
// unrelated standalone go.mod manifests, not a complete repo this module
// could ground on), so these eight languages are a plain map literal rather
// than routed through a message-catalog dependency.
var progressMessages = map[string]map[progressKey]string{
	"en": {
		progressPhaseStart:  "Starting %s...",
		progressPhaseRetry:  "%s hit a snag, retrying (%d/%d)...",
		progressQAFailed:    "QA found issues, sending back to development: %s",
		progressReviewWarn:  "Review flagged a concern, proceeding anyway: %s",
		progressBuildDone:   "Build complete: %s",
		progressBuildFailed: "Build failed at %s: %s",
	},
	"es": {
		progressPhaseStart:  "Iniciando %s...",
		progressPhaseRetry:  "%s tuvo un problema, reintentando (%d/%d)...",
		progressQAFailed:    "QA encontró problemas, volviendo a desarrollo: %s",
		progressReviewWarn:  "La revisión señaló un problema, continuando: %s",
		progressBuildDone:   "Compilación completa: %s",
		progressBuildFailed: "Compilación fallida en %s: %s",
	},
	"fr": {
		progressPhaseStart:  "Démarrage de %s...",
		progressPhaseRetry:  "%s a rencontré un problème, nouvelle tentative (%d/%d)...",
		progressQAFailed:    "QA a trouvé des problèmes, retour au développement: %s",
		progressReviewWarn:  "La revue a signalé un souci, poursuite malgré tout: %s",
		progressBuildDone:   "Build terminé: %s",
		progressBuildFailed: "Échec du build à %s: %s",
	},
	"de": {
		progressPhaseStart:  "%s wird gestartet...",
		progressPhaseRetry:  "%s ist fehlgeschlagen, Wiederholung (%d/%d)...",
		progressQAFailed:    "QA hat Probleme gefunden, zurück zur Entwicklung: %s",
		progressReviewWarn:  "Review hat ein Problem gemeldet, wird trotzdem fortgesetzt: %s",
		progressBuildDone:   "Build abgeschlossen: %s",
		progressBuildFailed: "Build fehlgeschlagen bei %s: %s",
	},
	"pt": {
		progressPhaseStart:  "Iniciando %s...",
		progressPhaseRetry:  "%s teve um problema, tentando novamente (%d/%d)...",
		progressQAFailed:    "QA encontrou problemas, voltando para desenvolvimento: %s",
		progressReviewWarn:  "A revisão sinalizou uma preocupação, prosseguindo mesmo assim: %s",
		progressBuildDone:   "Build concluído: %s",
		progressBuildFailed: "Build falhou em %s: %s",
	},
	"ja": {
		progressPhaseStart:  "%s を開始します...",
		progressPhaseRetry:  "%s で問題が発生しました。再試行中 (%d/%d)...",
		progressQAFailed:    "QAで問題が見つかり、開発に差し戻します: %s",
		progressReviewWarn:  "レビューで懸念点が指摘されましたが、続行します: %s",
		progressBuildDone:   "ビルド完了: %s",
		progressBuildFailed: "%s でビルドが失敗しました: %s",
	},
	"zh": {
		progressPhaseStart:  "正在开始 %s...",
		progressPhaseRetry:  "%s 遇到问题，正在重试 (%d/%d)...",
		progressQAFailed:    "QA 发现问题，退回开发: %s",
		progressReviewWarn:  "评审发现疑虑，仍继续: %s",
		progressBuildDone:   "构建完成: %s",
		progressBuildFailed: "在 %s 构建失败: %s",
	},
	"vi": {
		progressPhaseStart:  "Đang bắt đầu %s...",
		progressPhaseRetry:  "%s gặp sự cố, đang thử lại (%d/%d)...",
		progressQAFailed:    "QA phát hiện vấn đề, chuyển lại cho phát triển: %s",
		progressReviewWarn:  "Review phát hiện mối lo ngại, vẫn tiếp tục: %s",
		progressBuildDone:   "Hoàn tất build: %s",
		progressBuildFailed: "Build thất bại ở %s: %s",
	},
}

// localize returns the message template for key in lang, falling back to
// English for an unsupported language.
func localize(lang string, key progressKey) string {
	table, ok := progressMessages[lang]
	if !ok {
		table = progressMessages["en"]
	}
	msg, ok := table[key]
	if !ok {
		msg = progressMessages["en"][key]
	}
	return msg
}

package models

// ParseModeMarkdown режим разметки сообщений Telegram
const ParseModeMarkdown = "Markdown"

const (
	// MaxBodyBytes ограничение размера тела действия
	MaxBodyBytes = 1 << 20

	// DefaultListLimit сколько действий CLI показывает по умолчанию
	DefaultListLimit = 20
)

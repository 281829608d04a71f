package bot

import (
	"errors"

	"studysync/internal/models"
)

func (b *Bot) getErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	if models.IsStorageError(err) {
		return "⚠️ Хранилище очереди недоступно. Попробуйте позже."
	}

	if errors.Is(err, models.ErrNotFound) {
		return "⚠️ Действие не найдено."
	}

	return "❌ Не удалось выполнить команду. Подробности в логах."
}

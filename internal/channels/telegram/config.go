package telegram

import (
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
)

const defaultPollTimeout = 10 * time.Second

// Config holds the Telegram bot configuration
type Config struct {
	BotToken    string
	PollTimeout time.Duration
}

func (c Config) pollTimeout() time.Duration {
	if c.PollTimeout <= 0 {
		return defaultPollTimeout
	}
	return c.PollTimeout
}

// CheckToken validates a bot token by calling getMe and returns the bot username.
func CheckToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("bot token is empty")
	}
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	L_debug("telegram: validated token", "username", bot.Me.Username)
	return bot.Me.Username, nil
}

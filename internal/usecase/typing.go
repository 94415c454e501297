package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TypingNotifier shows a "typing" indicator in a chat.
type TypingNotifier interface {
	SendChatAction(ctx context.Context, chatID, action string) error
}

const chatActionTyping = "typing"

// startTyping sends the typing indicator now and then every interval until
// the returned stop func is called. stop cancels the loop and waits for it
// to exit; calling it more than once is safe.
func startTyping(ctx context.Context, n TypingNotifier, chatID string, interval time.Duration, log *zap.Logger) (stop func()) {
	if n == nil || interval <= 0 || chatID == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := n.SendChatAction(ctx, chatID, chatActionTyping); err != nil && ctx.Err() == nil {
				log.Debug("typing indicator failed", zap.String("stage", "typing"), zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

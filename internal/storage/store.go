package storage

import "context"

// PrefsStore holds session-scoped client state: surfaced notification ids
// (so a toast is never shown twice in one session) and the user's sound
// preference. Local only, never server-synchronized.
// Implementations: redis.Client, memory.Client (single process / tests).
type PrefsStore interface {
	MarkSeen(ctx context.Context, id string) error
	SeenIDs(ctx context.Context) ([]string, error)
	SetSoundEnabled(ctx context.Context, enabled bool) error
	SoundEnabled(ctx context.Context) (enabled bool, ok bool, err error)
	Close() error
}

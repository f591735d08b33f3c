package skillchain

import "context"

// NullOutcomeLogger is an OutcomeLogger that discards everything.
type NullOutcomeLogger struct{}

// NewNullOutcomeLogger creates a new no-op outcome logger
func NewNullOutcomeLogger() *NullOutcomeLogger {
	return &NullOutcomeLogger{}
}

func (l *NullOutcomeLogger) LogOutcome(ctx context.Context, entry *OutcomeLogEntry) error {
	return nil
}

func (l *NullOutcomeLogger) GetOutcomeHistory(ctx context.Context, executionID string) ([]*OutcomeLogEntry, error) {
	return nil, nil
}

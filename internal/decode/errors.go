package decode

import "fmt"

func errShortTopics(event string, want, got int) error {
	return fmt.Errorf("%s: expected at least %d topics, got %d", event, want, got)
}

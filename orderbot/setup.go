package orderbot

import (
	"context"
	"time"

	"github.com/hazyhaar/orderbot/orderbot/internal/journal"
	"github.com/hazyhaar/orderbot/orderbot/internal/prompt"
)

// DefaultSiteURL is offered as the default answer when the operator is
// asked for the order site.
const DefaultSiteURL = "https://robotsparebinindustries.com/#/robot-order"

// ErrPromptAborted is returned by AskSiteURL when the operator hits Ctrl+C.
var ErrPromptAborted = prompt.ErrAborted

// AskSiteURL blocks on the terminal until the operator enters the order
// site URL.
func AskSiteURL(ctx context.Context) (string, error) {
	return prompt.URL(ctx, nil, "Order site URL", DefaultSiteURL)
}

// OpenJournal opens the SQLite run journal at path. busyTimeout bounds how
// long a write waits on a locked database (0 keeps the default). The
// returned func closes the database. The SQLite driver must be registered
// by the caller.
func OpenJournal(path string, busyTimeout time.Duration) (Recorder, func() error, error) {
	db, err := journal.Open(path, busyTimeout)
	if err != nil {
		return nil, nil, err
	}
	return journal.New(db), db.Close, nil
}

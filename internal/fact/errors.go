package fact

import (
	"fmt"
	"time"
)

// DuplicateKeyError reports an append whose (subject, predicate,
// timestamp) key already exists. With tick-scoped timestamps this
// indicates a caller bug, not a data race; it is fatal to the single
// append only.
type DuplicateKeyError struct {
	Subject   string
	Predicate string
	Timestamp time.Time
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate fact key (%s, %s, %s)",
		e.Subject, e.Predicate, e.Timestamp.Format(time.RFC3339Nano))
}

package feed

import (
	"strings"
	"time"

	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

// normalize assigns a fresh guid and the current time to items missing them.
// Dates are cut to the millisecond precision records are stored with.
func (f *Feed) normalize(it model.Item) model.Item {
	if it.GUID == "" {
		it.GUID = f.newGUID()
	}
	if it.Date.IsZero() {
		it.Date = f.now()
	}
	it.Date = it.Date.Truncate(time.Millisecond)
	return it
}

// checkIdentity rejects guids that would collide with bookkeeping records.
func checkIdentity(guid string) error {
	switch {
	case guid == "":
		return &IdentityError{GUID: guid, Reason: "empty"}
	case guid == MetaName:
		return &IdentityError{GUID: guid, Reason: "reserved name"}
	case strings.HasPrefix(guid, ScrapPrefix):
		return &IdentityError{GUID: guid, Reason: "reserved prefix " + ScrapPrefix}
	}
	return nil
}

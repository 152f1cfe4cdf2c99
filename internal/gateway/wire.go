package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FlexString accepts a JSON string or number. The gateway sends trackId as
// either depending on endpoint.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// UnixTime decodes a unix-seconds timestamp sent as a number or numeric string.
type UnixTime struct {
	time.Time
}

func (u *UnixTime) UnmarshalJSON(b []byte) error {
	var raw FlexString
	if err := raw.UnmarshalJSON(b); err != nil {
		return err
	}
	if raw == "" || raw == "0" {
		u.Time = time.Time{}
		return nil
	}
	secs, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("unix time %q: %w", raw, err)
	}
	u.Time = time.Unix(secs, 0).UTC()
	return nil
}

// Ptr returns nil for the zero time.
func (u UnixTime) Ptr() *time.Time {
	if u.IsZero() {
		return nil
	}
	t := u.Time
	return &t
}

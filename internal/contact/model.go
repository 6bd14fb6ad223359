package contact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

type Contact struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Surname   string    `json:"surname"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Birthday  Date      `json:"birthday"`
	Extra     *string   `json:"extra"`
	CreatedAt time.Time `json:"-"`
}

// Date is a calendar day encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

func ParseDate(value string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return Date{}, fmt.Errorf("parse date: %w", err)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Input is the body of a create request.
type Input struct {
	Name     string  `json:"name"`
	Surname  string  `json:"surname"`
	Email    string  `json:"email"`
	Phone    string  `json:"phone"`
	Birthday string  `json:"birthday"`
	Extra    *string `json:"extra"`
}

// Field is one optional member of a Patch. Set reports whether the key was
// present in the request body, Null whether it was an explicit null.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		return nil
	}
	return json.Unmarshal(data, &f.Value)
}

// Patch is the body of an update request. Only present keys are applied.
type Patch struct {
	Name     Field[string] `json:"name"`
	Surname  Field[string] `json:"surname"`
	Email    Field[string] `json:"email"`
	Phone    Field[string] `json:"phone"`
	Birthday Field[string] `json:"birthday"`
	Extra    Field[string] `json:"extra"`
}

func (p Patch) Empty() bool {
	return !p.Name.Set && !p.Surname.Set && !p.Email.Set && !p.Phone.Set && !p.Birthday.Set && !p.Extra.Set
}

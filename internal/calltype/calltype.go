// Package calltype is the single source of truth for call-type identifiers,
// their ledger row mapping, their call-slot mapping and the bonus formula.
// Both the approval pipeline and the reversal engine consume this package so
// the two sides can never disagree on where a bonus was posted.
package calltype

import "errors"

type Type string

const (
	Deposit     Type = "deposit"
	FirstCall   Type = "first_call"
	SecondCall  Type = "second_call"
	ThirdCall   Type = "third_call"
	FourthCall  Type = "fourth_call"
	FifthCall   Type = "fifth_call"
	SixthCall   Type = "sixth_call"
	SeventhCall Type = "seventh_call"
	EighthCall  Type = "eighth_call"
	NinthCall   Type = "ninth_call"
	TenthCall   Type = "tenth_call"
)

type Category string

const (
	CategoryFTD    Category = "ftd"
	CategoryFiller Category = "filler"
)

// TalkingTimeRowID is the aggregate ledger row accumulating hours on every
// approved declaration, independent of call type.
const TalkingTimeRowID = "total_talking_time"

var (
	ErrUnknownType     = errors.New("unknown_call_type")
	ErrUnknownCategory = errors.New("unknown_call_category")
)

var all = []Type{
	Deposit,
	FirstCall, SecondCall, ThirdCall, FourthCall, FifthCall,
	SixthCall, SeventhCall, EighthCall, NinthCall, TenthCall,
}

var ledgerRows = map[Type]string{
	Deposit:     "deposit_calls",
	FirstCall:   "first_am_call",
	SecondCall:  "second_am_call",
	ThirdCall:   "third_am_call",
	FourthCall:  "fourth_am_call",
	FifthCall:   "fifth_am_call",
	SixthCall:   "sixth_am_call",
	SeventhCall: "seventh_am_call",
	EighthCall:  "eighth_am_call",
	NinthCall:   "ninth_am_call",
	TenthCall:   "tenth_am_call",
}

var slotNumbers = map[Type]int{
	FirstCall:   1,
	SecondCall:  2,
	ThirdCall:   3,
	FourthCall:  4,
	FifthCall:   5,
	SixthCall:   6,
	SeventhCall: 7,
	EighthCall:  8,
	NinthCall:   9,
	TenthCall:   10,
}

// Parse validates a raw call type string.
func Parse(raw string) (Type, error) {
	t := Type(raw)
	if _, ok := ledgerRows[t]; !ok {
		return "", ErrUnknownType
	}
	return t, nil
}

// ParseCategory validates a raw call category string.
func ParseCategory(raw string) (Category, error) {
	switch c := Category(raw); c {
	case CategoryFTD, CategoryFiller:
		return c, nil
	default:
		return "", ErrUnknownCategory
	}
}

func (t Type) Valid() bool {
	_, ok := ledgerRows[t]
	return ok
}

func (c Category) Valid() bool {
	return c == CategoryFTD || c == CategoryFiller
}

// LedgerRowID returns the affiliate-manager table row this call type posts to.
func (t Type) LedgerRowID() (string, error) {
	row, ok := ledgerRows[t]
	if !ok {
		return "", ErrUnknownType
	}
	return row, nil
}

// SlotNumber returns the deposit-call slot (1..10) tracking this call type.
// The deposit type has no slot; it is tracked on the record itself.
func (t Type) SlotNumber() (int, bool) {
	n, ok := slotNumbers[t]
	return n, ok
}

// All returns every known call type in declaration order.
func All() []Type {
	out := make([]Type, len(all))
	copy(out, all)
	return out
}

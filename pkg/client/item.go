package client

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format identifies the response shape of the upstream collection.
type Format string

const (
	// FormatEnvelope is a paginated API answering `GET <base>?page=N` with
	// `{"results": [...], "info": {"count": n, "pages": n}}`.
	FormatEnvelope Format = "envelope"

	// FormatFlat is an API answering `GET <base>` with the whole collection as a
	// JSON array. It has no native pagination, so only page 1 exists.
	FormatFlat Format = "flat"
)

// ParseFormat converts a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(FormatEnvelope):
		return FormatEnvelope, nil
	case string(FormatFlat):
		return FormatFlat, nil
	default:
		return "", fmt.Errorf("unknown upstream format %q", s)
	}
}

// Item is an opaque upstream record. Only the identity field is decoded; the
// raw JSON is kept verbatim for renderers.
type Item struct {
	ID  int
	Raw json.RawMessage
}

// UnmarshalJSON captures the id field and a copy of the raw object.
func (i *Item) UnmarshalJSON(data []byte) error {
	var head struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	i.ID = head.ID
	i.Raw = append(i.Raw[:0], data...)
	return nil
}

// MarshalJSON writes the raw upstream object back unchanged.
func (i Item) MarshalJSON() ([]byte, error) {
	if len(i.Raw) == 0 {
		return json.Marshal(struct {
			ID int `json:"id"`
		}{i.ID})
	}
	return i.Raw, nil
}

// Info is the collection metadata reported by the upstream.
type Info struct {
	Count int `json:"count"`
	Pages int `json:"pages"`
}

// Page is one upstream page.
type Page struct {
	Number int
	Items  []Item
	Info   Info
}

type envelope struct {
	Results []Item `json:"results"`
	Info    *Info  `json:"info"`
}

// decodePage parses an upstream body according to format.
func decodePage(format Format, number int, body []byte) (*Page, error) {
	switch format {
	case FormatFlat:
		var items []Item
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, &UpstreamError{ErrorClass: ErrorClassDecode, Message: "decode flat collection", Err: err}
		}
		return &Page{
			Number: number,
			Items:  items,
			Info:   Info{Count: len(items), Pages: 1},
		}, nil
	default:
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, &UpstreamError{ErrorClass: ErrorClassDecode, Message: "decode page envelope", Err: err}
		}
		if env.Results == nil {
			return nil, &UpstreamError{ErrorClass: ErrorClassDecode, Message: "page envelope has no results"}
		}
		if env.Info == nil {
			return nil, &UpstreamError{ErrorClass: ErrorClassDecode, Message: "page envelope has no info"}
		}
		return &Page{
			Number: number,
			Items:  env.Results,
			Info:   *env.Info,
		}, nil
	}
}

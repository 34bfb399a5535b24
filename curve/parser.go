package curve

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	nsAtom     = "http://www.w3.org/2005/Atom"
	nsMetadata = "http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"
	nsData     = "http://schemas.microsoft.com/ado/2007/08/dataservices"
)

type atomFeed struct {
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type atomEntry struct {
	Content *atomContent `xml:"http://www.w3.org/2005/Atom content"`
}

type atomContent struct {
	Properties *propertyBag `xml:"http://schemas.microsoft.com/ado/2007/08/dataservices/metadata properties"`
}

type propertyBag struct {
	Fields []property `xml:",any"`
}

type property struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

// lookup 返回 d: 命名空间下第一个同名字段。名字大小写敏感。
func (p *propertyBag) lookup(local string) (string, bool) {
	for _, f := range p.Fields {
		if f.XMLName.Space == nsData && f.XMLName.Local == local {
			return f.Text, true
		}
	}
	return "", false
}

// Parse reads a monthly Treasury XML feed. Only a document that is not
// well-formed XML is an error; entries without a usable date or without a
// single usable yield are skipped, as are individual values that do not
// parse or are negative. Output order follows the document.
func Parse(xmlText []byte) ([]Record, error) {
	var feed atomFeed
	if err := xml.NewDecoder(bytes.NewReader(xmlText)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parse yield feed: %w", err)
	}

	records := make([]Record, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		if e.Content == nil || e.Content.Properties == nil {
			continue
		}
		rec, ok := parseEntry(e.Content.Properties)
		if ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func parseEntry(props *propertyBag) (Record, bool) {
	raw, ok := props.lookup("record_date")
	if !ok {
		raw, ok = props.lookup("NEW_DATE")
	}
	if !ok {
		return Record{}, false
	}
	date, ok := parseDate(raw)
	if !ok {
		return Record{}, false
	}

	values := make(map[string]decimal.Decimal)
	for _, t := range terms {
		text, ok := props.lookup(t.field)
		if !ok {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		v, err := decimal.NewFromString(text)
		if err != nil || v.IsNegative() {
			continue
		}
		values[t.label] = v
	}
	if len(values) == 0 {
		return Record{}, false
	}
	return Record{Date: date, Values: values}, true
}

// parseDate keeps the part before 'T' and parses it as YYYY-MM-DD.
func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	day, _, _ := strings.Cut(raw, "T")
	t, err := time.Parse(time.DateOnly, day)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

package access

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"site-decisions/internal/workflow"
)

// Attendee list import. Lists are exported from spreadsheets or the
// student register, so the column names vary by language.

// Definition of fields in an attendee list
type AttendeeListDefinition struct {
	EmailField  string
	UserIDField string // optional

	Language string // Language code, e.g. "en", "fi"
}

var AttendeeListDefinitions = []AttendeeListDefinition{
	{
		EmailField:  "EMAIL",
		UserIDField: "USER ID",
		Language:    "en",
	},
	{
		EmailField:  "PRIMARY E-MAIL",
		UserIDField: "STUDENT NUMBER",
		Language:    "en",
	},
	{
		EmailField:  "SÄHKÖPOSTI",
		UserIDField: "KÄYTTÄJÄTUNNUS",
		Language:    "fi",
	},
	{
		EmailField:  "ENSISIJAINEN SÄHKÖPOSTI",
		UserIDField: "OPISKELIJANUMERO",
		Language:    "fi",
	},
}

// ReadAttendeesFile reads an attendee list from a CSV or TSV file.
func ReadAttendeesFile(path string) ([]workflow.AttendeeInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open attendee list: %w", err)
	}
	defer f.Close()
	return ReadAttendees(f)
}

// ReadAttendees parses an attendee list. UTF-16 input with a BOM is
// decoded, anything else is read as UTF-8. Rows with an invalid email are
// skipped and logged.
func ReadAttendees(r io.Reader) ([]workflow.AttendeeInput, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read attendee list: %w", err)
	}

	if len(raw) >= 2 && (raw[0] == 0xFE && raw[1] == 0xFF || raw[0] == 0xFF && raw[1] == 0xFE) {
		decoder := unicode.BOMOverride(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder())
		if raw, _, err = transform.Bytes(decoder, raw); err != nil {
			return nil, fmt.Errorf("failed to decode UTF-16 attendee list: %w", err)
		}
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(raw))
	firstLine, _, _ := bytes.Cut(raw, []byte("\n"))
	if bytes.Contains(firstLine, []byte("\t")) {
		reader.Comma = '\t'
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read attendee list header: %w", err)
	}

	idxEmail, idxUser := -1, -1
	for _, def := range AttendeeListDefinitions {
		idxEmail, idxUser = -1, -1
		for i, h := range headers {
			switch strings.ToUpper(strings.TrimSpace(h)) {
			case def.EmailField:
				idxEmail = i
			case def.UserIDField:
				idxUser = i
			}
		}
		if idxEmail != -1 {
			break
		}
	}
	if idxEmail == -1 {
		return nil, fmt.Errorf("attendee list is missing an email column")
	}

	var attendees []workflow.AttendeeInput
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading attendee list: %w", err)
		}
		if idxEmail >= len(record) {
			continue
		}
		email := strings.TrimSpace(record[idxEmail])
		if email == "" {
			continue
		}
		if err := ValidEmail(email); err != nil {
			slog.Warn("Skipping attendee", "line", line, "email", email, "error", err)
			continue
		}
		in := workflow.AttendeeInput{Email: email}
		if idxUser != -1 && idxUser < len(record) {
			in.UserID = strings.TrimSpace(record[idxUser])
		}
		attendees = append(attendees, in)
	}
	return attendees, nil
}

package gpg

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// StatusPrefix starts every line of the engine status stream
const StatusPrefix = "[GNUPG:]"

// Kind is the keyword of a status record
type Kind string

// Status record kinds, see doc/DETAILS in the GnuPG distribution
const (
	// KindUnknown is assigned to lines that are not status lines
	KindUnknown Kind = "UNKNOWN"

	KindKeyCreated     Kind = "KEY_CREATED"
	KindKeyConsidered  Kind = "KEY_CONSIDERED"
	KindImported       Kind = "IMPORTED"
	KindImportOK       Kind = "IMPORT_OK"
	KindImportProblem  Kind = "IMPORT_PROBLEM"
	KindImportRes      Kind = "IMPORT_RES"
	KindExported       Kind = "EXPORTED"
	KindExportRes      Kind = "EXPORT_RES"
	KindBeginEncrypt   Kind = "BEGIN_ENCRYPTION"
	KindEndEncrypt     Kind = "END_ENCRYPTION"
	KindBeginDecrypt   Kind = "BEGIN_DECRYPTION"
	KindEndDecrypt     Kind = "END_DECRYPTION"
	KindDecryptionOK   Kind = "DECRYPTION_OKAY"
	KindDecryptFailed  Kind = "DECRYPTION_FAILED"
	KindInvRecp        Kind = "INV_RECP"
	KindNeedPassphrase Kind = "NEED_PASSPHRASE"
	KindBadPassphrase  Kind = "BAD_PASSPHRASE"
	KindGoodPassphrase Kind = "GOOD_PASSPHRASE"
	KindPinentry       Kind = "PINENTRY_LAUNCHED"
	KindFailure        Kind = "FAILURE"
	KindError          Kind = "ERROR"
)

// minFields is the field count each known kind must carry
// to extract the values this package reads from it
var minFields = map[Kind]int{
	// KEY_CREATED <type> <fingerprint> [<handle>]
	KindKeyCreated: 2,
	// IMPORT_OK <reason> [<fingerprint>]
	KindImportOK: 2,
	// KEY_CONSIDERED <fpr> <flags>
	KindKeyConsidered: 1,
	// EXPORTED <fingerprint>
	KindExported: 1,
	// IMPORT_RES <count> <no_user_id> <imported> <imported_rsa> <unchanged>
	// <n_uids> <n_subk> <n_sigs> <n_revoc> <sec_read> <sec_imported>
	// <sec_dups> <skipped_new_keys> <not_imported> [<skipped_v3_keys>]
	KindImportRes: 14,
}

// fingerprintField is the position of the fingerprint per kind
var fingerprintField = map[Kind]int{
	KindKeyCreated:    1,
	KindImportOK:      1,
	KindKeyConsidered: 0,
	KindExported:      0,
}

// Record is a single line of the status stream
type Record struct {
	Kind   Kind
	Fields []string
	// Raw is the line as emitted by the engine
	Raw string
}

// Status is an ordered sequence of records, in emission order
type Status []Record

// ParseStatus parses the raw status stream. Every non-empty line produces a
// record; lines that are not status lines are kept with KindUnknown.
func ParseStatus(raw []byte) Status {
	var list Status
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		list = append(list, parseLine(line))
	}
	return list
}

func parseLine(line string) Record {
	rest, ok := strings.CutPrefix(line, StatusPrefix+" ")
	if !ok {
		return Record{Kind: KindUnknown, Raw: line}
	}
	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return Record{Kind: KindUnknown, Raw: line}
	}
	return Record{
		Kind:   Kind(parts[0]),
		Fields: parts[1:],
		Raw:    line,
	}
}

// FilterByKind returns records of the given kind, preserving order
func (s Status) FilterByKind(kind Kind) Status {
	var list Status
	for _, r := range s {
		if r.Kind == kind {
			list = append(list, r)
		}
	}
	return list
}

// FirstOfKind returns the first record of the given kind, or
// ErrExpectedStatusRecordMissing
func (s Status) FirstOfKind(kind Kind) (Record, error) {
	for _, r := range s {
		if r.Kind == kind {
			return r, nil
		}
	}
	return Record{}, errors.Mark(
		errors.Newf("%s: %s", ErrExpectedStatusRecordMissing.Error(), kind),
		ErrExpectedStatusRecordMissing)
}

// Has returns true if the stream contains a record of the given kind
func (s Status) Has(kind Kind) bool {
	for _, r := range s {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

// Unknown returns lines that could not be understood as status records
func (s Status) Unknown() Status {
	return s.FilterByKind(KindUnknown)
}

// Field returns the field at position i
func (r Record) Field(i int) (string, error) {
	if i < 0 || i >= len(r.Fields) {
		return "", unexpectedShape(r, "missing field %d", i)
	}
	return r.Fields[i], nil
}

// Fingerprint returns the key fingerprint carried by the record
func (r Record) Fingerprint() (string, error) {
	pos, ok := fingerprintField[r.Kind]
	if !ok {
		return "", unexpectedShape(r, "no fingerprint in %s", r.Kind)
	}
	if err := r.checkShape(); err != nil {
		return "", err
	}
	return r.Field(pos)
}

func (r Record) checkShape() error {
	if n := minFields[r.Kind]; len(r.Fields) < n {
		return unexpectedShape(r, "expected at least %d fields, got %d", n, len(r.Fields))
	}
	return nil
}

func unexpectedShape(r Record, format string, args ...any) error {
	return errors.Mark(
		errors.WithMessagef(errors.Errorf(format, args...), "%s: %q", ErrUnexpectedStatusShape.Error(), r.Raw),
		ErrUnexpectedStatusShape)
}

// ImportReason is the bit set reported by IMPORT_OK
type ImportReason int

// Import reasons
const (
	ImportUnchanged    ImportReason = 0
	ImportNewKey       ImportReason = 1
	ImportNewUserID    ImportReason = 2
	ImportNewSignature ImportReason = 4
	ImportNewSubkey    ImportReason = 8
	ImportSecretKey    ImportReason = 16
)

// Has returns true if the flag is set
func (r ImportReason) Has(flag ImportReason) bool {
	return r&flag == flag
}

// ImportReason returns the reason flags of an IMPORT_OK record
func (r Record) ImportReason() (ImportReason, error) {
	if r.Kind != KindImportOK {
		return 0, unexpectedShape(r, "no import reason in %s", r.Kind)
	}
	val, err := r.Field(0)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, unexpectedShape(r, "invalid import reason %q", val)
	}
	return ImportReason(n), nil
}

// ImportSummary holds the counters reported by IMPORT_RES
type ImportSummary struct {
	Count          int `json:"count"`
	NoUserID       int `json:"no_user_id"`
	Imported       int `json:"imported"`
	Unchanged      int `json:"unchanged"`
	NewUserIDs     int `json:"new_user_ids"`
	NewSubkeys     int `json:"new_subkeys"`
	NewSignatures  int `json:"new_signatures"`
	NewRevocations int `json:"new_revocations"`
	SecretRead     int `json:"secret_read"`
	SecretImported int `json:"secret_imported"`
	SecretDups     int `json:"secret_dups"`
	SkippedNewKeys int `json:"skipped_new_keys"`
	NotImported    int `json:"not_imported"`
}

// ImportSummary decodes an IMPORT_RES record
func (r Record) ImportSummary() (*ImportSummary, error) {
	if r.Kind != KindImportRes {
		return nil, unexpectedShape(r, "no import summary in %s", r.Kind)
	}
	if err := r.checkShape(); err != nil {
		return nil, err
	}
	vals := make([]int, len(r.Fields))
	for i, f := range r.Fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, unexpectedShape(r, "field %d is not a number: %q", i, f)
		}
		vals[i] = n
	}
	// position 3 is imported_rsa, which GnuPG always reports as 0
	return &ImportSummary{
		Count:          vals[0],
		NoUserID:       vals[1],
		Imported:       vals[2],
		Unchanged:      vals[4],
		NewUserIDs:     vals[5],
		NewSubkeys:     vals[6],
		NewSignatures:  vals[7],
		NewRevocations: vals[8],
		SecretRead:     vals[9],
		SecretImported: vals[10],
		SecretDups:     vals[11],
		SkippedNewKeys: vals[12],
		NotImported:    vals[13],
	}, nil
}

// Fingerprints returns fingerprints of all records of the given kind
func (s Status) Fingerprints(kind Kind) ([]string, error) {
	var list []string
	for _, r := range s.FilterByKind(kind) {
		fp, err := r.Fingerprint()
		if err != nil {
			return nil, err
		}
		list = append(list, fp)
	}
	return list, nil
}

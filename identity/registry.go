package identity

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownVoter      = errors.New("identity: national code not found in registry")
	ErrBirthDateMismatch = errors.New("identity: birth date does not match")
	ErrMobileMismatch    = errors.New("identity: mobile number does not match")
	ErrSerialMismatch    = errors.New("identity: card serial number does not match")
)

// Voter is one record of the eligible-voter registry, as imported from CSV.
type Voter struct {
	NationalCode string `json:"national_code"`
	BirthDate    string `json:"birth_date"`
	SerialNumber string `json:"serial_number"`
	Mobile       string `json:"mobile"`
	FullName     string `json:"full_name"`
}

// Registry is the CSV-backed eligible-voter database. It stands in for the
// government identity service a production deployment would call.
type Registry struct {
	mu     sync.RWMutex
	voters map[string]Voter
	log    *slog.Logger
}

// NewRegistry loads the registry from a CSV file. A missing file yields an
// empty registry with a warning rather than an error, matching the
// development workflow where voters are uploaded later.
func NewRegistry(csvPath string, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{voters: make(map[string]Voter), log: log}

	f, err := os.Open(csvPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("voter registry file not found, starting empty", "path", csvPath)
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open voter registry: %w", err)
	}
	defer f.Close()

	n, err := r.importLocked(f)
	if err != nil {
		return nil, err
	}
	log.Info("voter registry loaded", "path", csvPath, "voters", n)
	return r, nil
}

// ImportCSV merges voter records from r into the registry, overwriting
// records that share a national code. Returns the number of records read.
// The expected header is national_code,birth_date,serial_number,mobile,
// full_name in any column order.
func (reg *Registry) ImportCSV(r io.Reader) (int, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.importLocked(r)
}

func (reg *Registry) importLocked(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read voter CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"national_code", "birth_date", "serial_number", "mobile", "full_name"} {
		if _, ok := col[required]; !ok {
			return 0, fmt.Errorf("voter CSV missing column %q", required)
		}
	}

	count := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read voter CSV row: %w", err)
		}
		v := Voter{
			NationalCode: strings.TrimSpace(row[col["national_code"]]),
			BirthDate:    strings.TrimSpace(row[col["birth_date"]]),
			SerialNumber: strings.TrimSpace(row[col["serial_number"]]),
			Mobile:       strings.TrimSpace(row[col["mobile"]]),
			FullName:     strings.TrimSpace(row[col["full_name"]]),
		}
		if v.NationalCode == "" {
			continue
		}
		reg.voters[v.NationalCode] = v
		count++
	}
	return count, nil
}

// VerifyStage1 checks a voter's basic information against the registry: the
// first stage of the authentication flow. The serial number is only enforced
// when the caller supplies one.
func (reg *Registry) VerifyStage1(nationalCode, birthDate, mobile, serialNumber string) (Voter, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	voter, ok := reg.voters[strings.TrimSpace(nationalCode)]
	if !ok {
		return Voter{}, ErrUnknownVoter
	}
	if voter.BirthDate != strings.TrimSpace(birthDate) {
		return Voter{}, ErrBirthDateMismatch
	}
	if voter.Mobile != strings.TrimSpace(mobile) {
		return Voter{}, ErrMobileMismatch
	}
	serialNumber = strings.TrimSpace(serialNumber)
	if serialNumber != "" && !strings.EqualFold(voter.SerialNumber, serialNumber) {
		return Voter{}, ErrSerialMismatch
	}
	return voter, nil
}

// Count returns the number of registered voters.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.voters)
}

// WriteCSV dumps the registry in the import format, rows sorted by national
// code for a stable output.
func (reg *Registry) WriteCSV(w io.Writer) error {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	codes := make([]string, 0, len(reg.voters))
	for code := range reg.voters {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"national_code", "birth_date", "serial_number", "mobile", "full_name"}); err != nil {
		return fmt.Errorf("write voter CSV header: %w", err)
	}
	for _, code := range codes {
		v := reg.voters[code]
		if err := writer.Write([]string{v.NationalCode, v.BirthDate, v.SerialNumber, v.Mobile, v.FullName}); err != nil {
			return fmt.Errorf("write voter CSV row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

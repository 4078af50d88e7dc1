package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// BackupCodes stores hashed MFA backup codes as an ordered JSON array.
type BackupCodes []string

// Value implements driver.Valuer for database serialization.
func (codes BackupCodes) Value() (driver.Value, error) {
	cleaned := codes.Clean()
	data, errMarshal := json.Marshal([]string(cleaned))
	if errMarshal != nil {
		return nil, fmt.Errorf("backup codes marshal: %w", errMarshal)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database deserialization.
func (codes *BackupCodes) Scan(value any) error {
	if codes == nil {
		return fmt.Errorf("backup codes scan: nil receiver")
	}
	if value == nil {
		*codes = BackupCodes{}
		return nil
	}

	switch typed := value.(type) {
	case []byte:
		return parseBackupCodes(codes, typed)
	case string:
		return parseBackupCodes(codes, []byte(typed))
	default:
		return fmt.Errorf("backup codes scan: unsupported type %T", value)
	}
}

func parseBackupCodes(target *BackupCodes, data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		*target = BackupCodes{}
		return nil
	}
	var list []string
	if errList := json.Unmarshal(data, &list); errList != nil {
		return fmt.Errorf("backup codes scan: invalid json")
	}
	*target = BackupCodes(list).Clean()
	return nil
}

// Clean removes empty entries and duplicates while keeping order.
func (codes BackupCodes) Clean() BackupCodes {
	if len(codes) == 0 {
		return BackupCodes{}
	}
	seen := make(map[string]struct{}, len(codes))
	cleaned := make(BackupCodes, 0, len(codes))
	for _, code := range codes {
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	return cleaned
}

// Without returns the list minus hash and whether hash was present.
func (codes BackupCodes) Without(hash string) (BackupCodes, bool) {
	out := make(BackupCodes, 0, len(codes))
	found := false
	for _, code := range codes {
		if !found && code == hash {
			found = true
			continue
		}
		out = append(out, code)
	}
	return out, found
}

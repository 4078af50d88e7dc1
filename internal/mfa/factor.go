package mfa

// Factor is a second-factor proof. Exactly one verification path runs per Factor.
type Factor interface {
	factorKind() string
}

// TOTPFactor is an authenticator app code.
type TOTPFactor struct {
	Code string
}

func (TOTPFactor) factorKind() string { return "totp" }

// BackupCodeFactor is a single-use recovery code.
type BackupCodeFactor struct {
	Code string
}

func (BackupCodeFactor) factorKind() string { return "backup_code" }

// FactorFromRequest maps the wire flag onto a factor variant.
func FactorFromRequest(code string, isBackupCode bool) Factor {
	if isBackupCode {
		return BackupCodeFactor{Code: code}
	}
	return TOTPFactor{Code: code}
}

// Kind returns a log-friendly factor name.
func Kind(f Factor) string {
	if f == nil {
		return "none"
	}
	return f.factorKind()
}

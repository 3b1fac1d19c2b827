package types

// ObservableType is the platform-facing type tag of a detected value.
// Values follow the STIX cyber-observable naming used by OpenCTI.
type ObservableType string

const (
	ObservableURL           ObservableType = "Url"
	ObservableEmail         ObservableType = "Email-Addr"
	ObservableDomain        ObservableType = "Domain-Name"
	ObservableIPv4          ObservableType = "IPv4-Addr"
	ObservableIPv6          ObservableType = "IPv6-Addr"
	ObservableFile          ObservableType = "StixFile"
	ObservableMAC           ObservableType = "Mac-Addr"
	ObservableCryptoWallet  ObservableType = "Cryptocurrency-Wallet"
	ObservableASN           ObservableType = "Autonomous-System"
	ObservableBankAccount   ObservableType = "Bank-Account"
	ObservablePaymentCard   ObservableType = "Payment-Card"
	ObservablePhone         ObservableType = "Phone-Number"
	ObservableVulnerability ObservableType = "Vulnerability"
	ObservableAttackPattern ObservableType = "Attack-Pattern"
)

// HashKind distinguishes file observables that were detected as a hash.
type HashKind string

const (
	HashNone   HashKind = ""
	HashMD5    HashKind = "MD5"
	HashSHA1   HashKind = "SHA-1"
	HashSHA256 HashKind = "SHA-256"
	HashSHA512 HashKind = "SHA-512"
)

// PlatformMatch links a detection to an entity on one connected platform.
type PlatformMatch struct {
	PlatformID string                 `json:"platform_id" yaml:"platform_id"`
	EntityID   string                 `json:"entity_id" yaml:"entity_id"`
	EntityType string                 `json:"entity_type" yaml:"entity_type"`
	EntityData map[string]interface{} `json:"entity_data,omitempty" yaml:"entity_data,omitempty"`
}

func (m PlatformMatch) key() string {
	return m.PlatformID + "\x00" + m.EntityID
}

// DetectedObservable is one accepted match in a scanned text. StartIndex and
// EndIndex are byte offsets into the original input.
type DetectedObservable struct {
	Type            ObservableType  `json:"type" yaml:"type"`
	Value           string          `json:"value" yaml:"value"`
	RefangedValue   string          `json:"refanged_value" yaml:"refanged_value"`
	IsDefanged      bool            `json:"is_defanged" yaml:"is_defanged"`
	HashKind        HashKind        `json:"hash_kind,omitempty" yaml:"hash_kind,omitempty"`
	StartIndex      int             `json:"start_index" yaml:"start_index"`
	EndIndex        int             `json:"end_index" yaml:"end_index"`
	Context         string          `json:"context,omitempty" yaml:"context,omitempty"`
	Found           bool            `json:"found" yaml:"found"`
	PlatformMatches []PlatformMatch `json:"platform_matches" yaml:"platform_matches"`
}

// AddMatch attaches m unless the same platform entity is already attached.
// The first attached match marks the observable as found.
func (o *DetectedObservable) AddMatch(m PlatformMatch) bool {
	if !addMatch(&o.PlatformMatches, m) {
		return false
	}
	o.Found = true
	return true
}

// DetectedEntity is a named platform entity (threat actor, malware, ...)
// whose name or alias occurs in the scanned text.
type DetectedEntity struct {
	Type            string          `json:"type" yaml:"type"`
	Name            string          `json:"name" yaml:"name"`
	MatchedValue    string          `json:"matched_value" yaml:"matched_value"`
	Aliases         []string        `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	StartIndex      int             `json:"start_index" yaml:"start_index"`
	EndIndex        int             `json:"end_index" yaml:"end_index"`
	Found           bool            `json:"found" yaml:"found"`
	PlatformMatches []PlatformMatch `json:"platform_matches" yaml:"platform_matches"`
}

func (e *DetectedEntity) AddMatch(m PlatformMatch) bool {
	if !addMatch(&e.PlatformMatches, m) {
		return false
	}
	e.Found = true
	return true
}

func addMatch(matches *[]PlatformMatch, m PlatformMatch) bool {
	for _, existing := range *matches {
		if existing.key() == m.key() {
			return false
		}
	}
	*matches = append(*matches, m)
	return true
}

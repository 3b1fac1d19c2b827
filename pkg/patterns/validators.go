package patterns

import (
	"math/big"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/miekg/dns"
	"github.com/nyaruka/phonenumbers"
	"golang.org/x/crypto/sha3"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/defang"
)

// Validators take the raw matched text, which may still be defanged, and
// report whether it is a plausible instance of the type.

var (
	versionStemRe = regexp.MustCompile(`^[vV]?\d+(?:\.\d+)+$`)
	hexRe         = regexp.MustCompile(`^[0-9a-fA-F]+$`)

	idnaProfile = idna.New(idna.MapForLookup(), idna.Transitional(false))
)

// ValidIPv4 rejects the unspecified and broadcast addresses.
func ValidIPv4(candidate string) bool {
	addr, err := netip.ParseAddr(defang.Refang(candidate))
	if err != nil || !addr.Is4() {
		return false
	}
	s := addr.String()
	return s != "0.0.0.0" && s != "255.255.255.255"
}

// ValidIPv6 requires a parseable IPv6 address with at least two non-empty
// groups, which keeps scope operators like "d::" out.
func ValidIPv6(candidate string) bool {
	addr, err := netip.ParseAddr(candidate)
	if err != nil || !addr.Is6() || addr.Zone() != "" {
		return false
	}

	groups := 0
	for _, g := range strings.Split(candidate, ":") {
		if g != "" {
			groups++
		}
	}
	return groups >= 2
}

// ValidDomain checks label syntax, punycode labels and the final label. The
// final label must be an ICANN top-level domain and must not be a known file
// or code extension.
func ValidDomain(candidate string) bool {
	d := strings.ToLower(strings.TrimSuffix(defang.Refang(candidate), "."))
	if d == "" || len(d) > 253 {
		return false
	}

	if _, ok := dns.IsDomainName(d); !ok {
		return false
	}

	labels := strings.Split(d, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || len(label) > 63 || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}

	if strings.Contains(d, "xn--") {
		if _, err := idnaProfile.ToUnicode(d); err != nil {
			return false
		}
	}

	tld := labels[len(labels)-1]
	if inSet(codeExtensions, tld) || inSet(fileExtensions, tld) {
		return false
	}

	_, icann := publicsuffix.PublicSuffix(tld)
	return icann
}

// ValidEmail requires a sane local part and a valid domain part, so that
// strings like logo@2x.png are rejected.
func ValidEmail(candidate string) bool {
	s := defang.Refang(candidate)
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return false
	}

	local := s[:at]
	if len(local) > 64 || strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(local, "..") {
		return false
	}
	return ValidDomain(s[at+1:])
}

func ValidURL(candidate string) bool {
	u, err := url.Parse(defang.Refang(candidate))
	if err != nil {
		return false
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
	default:
		return false
	}
	return u.Hostname() != ""
}

// ValidMD5 accepts exactly 32 hex characters. Hyphenated identifiers such as
// UUIDs never qualify.
func ValidMD5(candidate string) bool {
	return len(candidate) == 32 && !strings.Contains(candidate, "-") && hexRe.MatchString(candidate)
}

func validHexLen(n int) func(string) bool {
	return func(candidate string) bool {
		return len(candidate) == n && hexRe.MatchString(candidate)
	}
}

// ValidFileName requires an allow-listed extension and a stem that is not
// empty and does not look like a version number (1.2.3.exe).
func ValidFileName(candidate string) bool {
	dot := strings.LastIndex(candidate, ".")
	if dot <= 0 || dot == len(candidate)-1 {
		return false
	}

	stem, ext := candidate[:dot], candidate[dot+1:]
	if !IsFileExtension(ext) {
		return false
	}
	if strings.Trim(stem, ".-_") == "" {
		return false
	}
	return !versionStemRe.MatchString(stem)
}

// ValidMAC requires one separator style throughout.
func ValidMAC(candidate string) bool {
	if len(candidate) != 17 {
		return false
	}
	sep := candidate[2]
	for i := 2; i < len(candidate); i += 3 {
		if candidate[i] != sep {
			return false
		}
	}
	return true
}

// ValidCryptoWallet verifies the address checksum: base58check for legacy
// Bitcoin addresses, bech32/bech32m for segwit and EIP-55 for mixed-case
// Ethereum addresses. Single-case Ethereum addresses carry no checksum.
func ValidCryptoWallet(candidate string) bool {
	switch {
	case strings.HasPrefix(candidate, "0x"):
		return len(candidate) == 42 && hexRe.MatchString(candidate[2:]) && validEIP55(candidate[2:])
	case strings.HasPrefix(candidate, "bc1"):
		return validSegwit(candidate)
	}

	payload, version, err := base58.CheckDecode(candidate)
	if err != nil || len(payload) != 20 {
		return false
	}
	return version == 0x00 || version == 0x05
}

func validEIP55(addr string) bool {
	lower := strings.ToLower(addr)
	if addr == lower || addr == strings.ToUpper(addr) {
		return true
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	sum := h.Sum(nil)

	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if c >= '0' && c <= '9' {
			continue
		}
		nibble := sum[i/2] >> 4
		if i%2 == 1 {
			nibble = sum[i/2] & 0x0f
		}
		if (nibble >= 8) != (c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// validSegwit follows BIP-173 and BIP-350: witness version 0 uses bech32
// with a 20 or 32 byte program, later versions use bech32m.
func validSegwit(candidate string) bool {
	hrp, data, version, err := bech32.DecodeGeneric(candidate)
	if err != nil || hrp != "bc" || len(data) == 0 {
		return false
	}

	witnessVersion := data[0]
	if witnessVersion > 16 {
		return false
	}
	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil || len(program) < 2 || len(program) > 40 {
		return false
	}

	if witnessVersion == 0 {
		return version == bech32.Version0 && (len(program) == 20 || len(program) == 32)
	}
	return version == bech32.VersionM
}

func ValidASN(candidate string) bool {
	n, err := strconv.ParseUint(asnDigits(candidate), 10, 32)
	return err == nil && n > 0
}

// ValidIBAN checks the length bounds and the ISO 13616 mod-97 checksum.
func ValidIBAN(candidate string) bool {
	s := strings.ReplaceAll(candidate, " ", "")
	if len(s) < 15 || len(s) > 34 {
		return false
	}

	rearranged := s[4:] + s[:4]
	var b strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteString(strconv.Itoa(int(r-'A') + 10))
		default:
			return false
		}
	}

	n, ok := new(big.Int).SetString(b.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}

// ValidCreditCard applies the Luhn checksum to 13-19 digit numbers.
func ValidCreditCard(candidate string) bool {
	number := stripSeparators(candidate)
	if len(number) < 13 || len(number) > 19 {
		return false
	}
	if strings.Count(number, number[:1]) == len(number) {
		return false
	}
	return luhnCheck(number)
}

func luhnCheck(number string) bool {
	sum := 0
	isDouble := false

	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if digit < 0 || digit > 9 {
			return false
		}

		if isDouble {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}

		sum += digit
		isDouble = !isDouble
	}

	return sum%10 == 0
}

// ValidPhone parses the international number against the libphonenumber
// metadata, so the country code and national number length must agree.
func ValidPhone(candidate string) bool {
	num, err := phonenumbers.Parse(candidate, "")
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func asnDigits(s string) string {
	s = strings.TrimPrefix(s, "ASN")
	s = strings.TrimPrefix(s, "AS")
	return strings.TrimSpace(s)
}

package patterns

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/defang"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

// Priorities. CVE and MITRE technique ids are disjoint from everything else.
const (
	PriorityURL          = 100
	PriorityEmail        = 90
	PriorityDomain       = 80
	PriorityIPv6         = 75
	PriorityIPv4         = 70
	PrioritySHA512       = 68
	PrioritySHA256       = 66
	PrioritySHA1         = 64
	PriorityMD5          = 62
	PriorityFileName     = 55
	PriorityMAC          = 50
	PriorityCryptoWallet = 45
	PriorityASN          = 40
	PriorityIBAN         = 35
	PriorityPaymentCard  = 30
	PriorityPhone        = 20
	PriorityCVE          = 100
	PriorityMITRE        = 100
)

// Building blocks shared by the domain, email and URL expressions. Each
// accepts the defanged spellings.
const (
	dotExpr    = `(?:\.|\[\.\]|\(\.\)|\{\.\})`
	atExpr     = `(?:@|\[@\]|\(@\)|\{@\})`
	labelExpr  = `[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?`
	tldExpr    = `(?:[Xx][Nn]--[A-Za-z0-9-]{2,59}|[A-Za-z]{2,63})`
	domainExpr = `(?:` + labelExpr + dotExpr + `)+` + tldExpr

	octetExpr = `(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])`
	hexGroup  = `[0-9A-Fa-f]{1,4}`

	dashClass = `[\x{2010}-\x{2015}\x{2212}-]`
)

var (
	urlRe = regexp.MustCompile(`\b(?i:https?|hxxps?|h\[xx\]ps?|ftp|meow)(?:://|\[://\]|\[:\]//|\(:/\)/)[^\s<>"'\x60\x{201c}\x{201d}|]+`)

	emailRe  = regexp.MustCompile(`[A-Za-z0-9._%+-]+` + atExpr + domainExpr)
	domainRe = regexp.MustCompile(domainExpr)

	ipv4Re = regexp.MustCompile(octetExpr + dotExpr + octetExpr + dotExpr + octetExpr + dotExpr + octetExpr)
	ipv6Re = regexp.MustCompile(
		`(?:` + hexGroup + `:){7}` + hexGroup +
			`|(?:` + hexGroup + `:){1,7}:(?:` + hexGroup + `(?::` + hexGroup + `){0,6})?` +
			`|::` + hexGroup + `(?::` + hexGroup + `){0,6}`)

	sha512Re = regexp.MustCompile(`\b[0-9A-Fa-f]{128}\b`)
	sha256Re = regexp.MustCompile(`\b[0-9A-Fa-f]{64}\b`)
	sha1Re   = regexp.MustCompile(`\b[0-9A-Fa-f]{40}\b`)
	md5Re    = regexp.MustCompile(`\b[0-9A-Fa-f]{32}\b`)

	fileNameRe = regexp.MustCompile(`[A-Za-z0-9_][A-Za-z0-9_.-]{0,200}\.[A-Za-z0-9]{1,5}\b`)
	macRe      = regexp.MustCompile(`\b[0-9A-Fa-f]{2}[:-][0-9A-Fa-f]{2}[:-][0-9A-Fa-f]{2}[:-][0-9A-Fa-f]{2}[:-][0-9A-Fa-f]{2}[:-][0-9A-Fa-f]{2}\b`)
	walletRe   = regexp.MustCompile(`\b(?:0x[0-9a-fA-F]{40}|bc1[02-9ac-hj-np-z]{11,71}|[13][1-9A-HJ-NP-Za-km-z]{25,34})\b`)
	asnRe      = regexp.MustCompile(`\b(?:AS|ASN ?)[0-9]{1,10}\b`)
	ibanRe     = regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,3})?\b`)
	cardRe     = regexp.MustCompile(`\b(?:[0-9][ -]?){12,18}[0-9]\b`)
	phoneRe    = regexp.MustCompile(`\+[0-9]{1,3}[ .-]?(?:\([0-9]{1,4}\)[ .-]?)?[0-9]{1,4}(?:[ .-]?[0-9]{2,4}){1,4}`)

	cveRe   = regexp.MustCompile(`(?i)\bCVE` + dashClass + `[0-9]{4}` + dashClass + `[0-9]{4,7}\b`)
	mitreRe = regexp.MustCompile(`\bT[0-9]{4}(?:\.[0-9]{3})?\b`)

	unicodeDashes = strings.NewReplacer(
		"‐", "-", "‑", "-", "‒", "-", "–", "-",
		"—", "-", "―", "-", "−", "-",
	)
)

func builtinDefinitions() []Definition {
	return []Definition{
		{Name: "url", Type: types.ObservableURL, Regex: urlRe, Priority: PriorityURL, Validate: ValidURL, Trim: trimURL},
		{Name: "cve", Type: types.ObservableVulnerability, Regex: cveRe, Priority: PriorityCVE, Disjoint: true, Normalize: normalizeCVE},
		{Name: "mitre-technique", Type: types.ObservableAttackPattern, Regex: mitreRe, Priority: PriorityMITRE, Disjoint: true},
		{Name: "email", Type: types.ObservableEmail, Regex: emailRe, Priority: PriorityEmail, Validate: ValidEmail, Guard: emailGuard, Normalize: refangLower},
		{Name: "domain", Type: types.ObservableDomain, Regex: domainRe, Priority: PriorityDomain, Validate: ValidDomain, Guard: domainGuard, Normalize: refangLower},
		{Name: "ipv6", Type: types.ObservableIPv6, Regex: ipv6Re, Priority: PriorityIPv6, Validate: ValidIPv6, Guard: ipv6Guard, Normalize: strings.ToLower},
		{Name: "ipv4", Type: types.ObservableIPv4, Regex: ipv4Re, Priority: PriorityIPv4, Validate: ValidIPv4, Guard: ipv4Guard},
		{Name: "sha512", Type: types.ObservableFile, HashKind: types.HashSHA512, Regex: sha512Re, Priority: PrioritySHA512, Validate: validHexLen(128), Normalize: strings.ToLower},
		{Name: "sha256", Type: types.ObservableFile, HashKind: types.HashSHA256, Regex: sha256Re, Priority: PrioritySHA256, Validate: validHexLen(64), Normalize: strings.ToLower},
		{Name: "sha1", Type: types.ObservableFile, HashKind: types.HashSHA1, Regex: sha1Re, Priority: PrioritySHA1, Validate: validHexLen(40), Normalize: strings.ToLower},
		{Name: "md5", Type: types.ObservableFile, HashKind: types.HashMD5, Regex: md5Re, Priority: PriorityMD5, Validate: ValidMD5, Guard: hyphenGuard, Normalize: strings.ToLower},
		{Name: "file-name", Type: types.ObservableFile, Regex: fileNameRe, Priority: PriorityFileName, Validate: ValidFileName, Guard: fileNameGuard},
		{Name: "mac", Type: types.ObservableMAC, Regex: macRe, Priority: PriorityMAC, Validate: ValidMAC, Guard: macGuard, Normalize: normalizeMAC},
		{Name: "crypto-wallet", Type: types.ObservableCryptoWallet, Regex: walletRe, Priority: PriorityCryptoWallet, Validate: ValidCryptoWallet},
		{Name: "asn", Type: types.ObservableASN, Regex: asnRe, Priority: PriorityASN, Validate: ValidASN, Normalize: normalizeASN},
		{Name: "iban", Type: types.ObservableBankAccount, Regex: ibanRe, Priority: PriorityIBAN, Validate: ValidIBAN, Normalize: stripSpaces},
		{Name: "payment-card", Type: types.ObservablePaymentCard, Regex: cardRe, Priority: PriorityPaymentCard, Validate: ValidCreditCard, Guard: cardGuard, Normalize: stripSeparators},
		{Name: "phone", Type: types.ObservablePhone, Regex: phoneRe, Priority: PriorityPhone, Validate: ValidPhone, Guard: phoneGuard, Normalize: normalizePhone},
	}
}

func refangLower(s string) string { return strings.ToLower(defang.Refang(s)) }

func normalizeCVE(s string) string { return strings.ToUpper(unicodeDashes.Replace(s)) }

func normalizeASN(s string) string { return "AS" + asnDigits(s) }

func normalizeMAC(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", ":"))
}

func normalizePhone(s string) string { return "+" + stripSeparators(s) }

func stripSpaces(s string) string { return strings.ReplaceAll(s, " ", "") }

// trimURL drops trailing punctuation and closing brackets that have no
// opening partner inside the match.
func trimURL(match string) string {
	for len(match) > 0 {
		last := match[len(match)-1]
		switch last {
		case '.', ',', ';', ':', '!', '?', '\'', '"', '*':
			match = match[:len(match)-1]
			continue
		case ')':
			if strings.Count(match, "(") < strings.Count(match, ")") {
				match = match[:len(match)-1]
				continue
			}
		case ']':
			if strings.Count(match, "[") < strings.Count(match, "]") {
				match = match[:len(match)-1]
				continue
			}
		case '}':
			if strings.Count(match, "{") < strings.Count(match, "}") {
				match = match[:len(match)-1]
				continue
			}
		}
		break
	}
	return match
}

func runeBefore(text string, i int) rune {
	if i <= 0 {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return r
}

func runeAfter(text string, i int) rune {
	if i >= len(text) {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return r
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isHexRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// continuesWithDottedDigit reports whether text at i continues the match
// with another dot (plain or defanged) followed by a digit.
func continuesWithDottedDigit(text string, i int) bool {
	rest := text[i:]
	for _, tok := range []string{".", "[.]", "(.)", "{.}"} {
		if strings.HasPrefix(rest, tok) && isDigit(runeAfter(rest, len(tok))) {
			return true
		}
	}
	return false
}

func ipv4Guard(text string, start, end int) bool {
	if prev := runeBefore(text, start); isWordRune(prev) || prev == '.' {
		return false
	}
	if isDigit(runeAfter(text, end)) {
		return false
	}
	return !continuesWithDottedDigit(text, end)
}

func ipv6Guard(text string, start, end int) bool {
	if prev := runeBefore(text, start); isWordRune(prev) || prev == ':' {
		return false
	}
	next := runeAfter(text, end)
	return !isWordRune(next) && next != ':'
}

func domainGuard(text string, start, end int) bool {
	if prev := runeBefore(text, start); isWordRune(prev) || prev == '-' {
		return false
	}
	next := runeAfter(text, end)
	return !isWordRune(next) && next != '-'
}

func emailGuard(text string, start, end int) bool {
	next := runeAfter(text, end)
	return !isWordRune(next) && next != '-'
}

func hyphenGuard(text string, start, end int) bool {
	return runeBefore(text, start) != '-' && runeAfter(text, end) != '-'
}

func fileNameGuard(text string, start, end int) bool {
	prev := runeBefore(text, start)
	if isWordRune(prev) || prev == '.' || prev == '-' {
		return false
	}
	return runeAfter(text, end) != '-'
}

func macGuard(text string, start, end int) bool {
	prev, next := runeBefore(text, start), runeAfter(text, end)
	if prev == ':' || prev == '-' {
		return false
	}
	if (next == ':' || next == '-') && isHexRune(runeAfter(text, end+1)) {
		return false
	}
	return true
}

func cardGuard(text string, start, end int) bool {
	prev := runeBefore(text, start)
	return prev != '+' && prev != '.' && prev != '-'
}

func phoneGuard(text string, start, end int) bool {
	if prev := runeBefore(text, start); isWordRune(prev) || prev == '+' {
		return false
	}
	return !isDigit(runeAfter(text, end))
}

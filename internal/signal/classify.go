// Package signal tags DEX string literals and Android API calls with
// behavior categories and builds the graph of methods that carry them.
package signal

import (
	"math"
	"regexp"
	"slices"
	"strings"
)

// Signal categories.
const (
	CatURL        = "url"
	CatHost       = "host"
	CatEncryption = "encryption"
	CatAuth       = "auth"
	CatNet        = "net"
	CatFileExt    = "file"
	CatBase64Key  = "base64"

	CatSIM        = "sim"        // SIM card, IMEI, carrier
	CatSMS        = "sms"        // SMS read/send
	CatContacts   = "contacts"   // contacts and call log
	CatLocation   = "location"   // GPS, geolocation
	CatDeviceInfo = "device"     // device ID, installed packages
	CatCamera     = "camera"     // camera and microphone capture
	CatWebView    = "webview"    // WebView loading, JS bridges
	CatClipboard  = "clipboard"  // clipboard read/write
	CatRoot       = "root"       // su binaries, root managers
	CatEmulator   = "emulator"   // emulator and sandbox probes
	CatReflection = "reflection" // java.lang.reflect, Class.forName
	CatDynLoad    = "dynload"    // runtime DEX loading
	CatExec       = "exec"       // shell command execution
	CatNative     = "native"     // JNI library loading
)

// A rule tags a value when its normalized form contains any keyword or
// when re matches the raw value.
type rule struct {
	cat      string
	keywords []string
	re       *regexp.Regexp
}

func (r rule) match(raw, norm string) bool {
	for _, kw := range r.keywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return r.re != nil && r.re.MatchString(raw)
}

// word builds a case-insensitive regexp matching any alternative as a
// standalone word.
func word(alts string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[^a-zA-Z])(` + alts + `)([^a-zA-Z]|$)`)
}

var (
	reURL       = regexp.MustCompile(`(?i)(https?|wss?|ftp)://`)
	reIPLiteral = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	reBase64    = regexp.MustCompile(`^[A-Za-z0-9+/=]{16,}$`)

	// Standalone only: "password" inside "showPasswordToggle" is UI noise.
	reAuthStandalone = regexp.MustCompile(`(?i)(^|[^a-z])(password|token|secret|login)([^a-z]|$)`)

	httpMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

	signalExtensions = []string{
		".dex", ".jar", ".so", ".apk", ".odex", ".vdex",
		".zip", ".gz",
		".json", ".xml",
		".db", ".sqlite",
		".key", ".pem", ".crt", ".p12", ".jks", ".bks",
		".js", ".sh",
	}

	// Keywords are in normalized form: lowercase, no separators.
	stringRules = []rule{
		{CatEncryption, []string{
			"encrypt", "decrypt", "cipher", "pbkdf", "bcrypt", "scrypt",
			"signature", "digest", "hmacsha", "chacha", "blowfish",
			"nonce", "secretkeyspec", "ivparameterspec",
		}, word(`aes|rsa|ecdsa|ecdh|hmac|sha1|sha-1|sha256|sha-256|sha512|md5|cbc|ecb|gcm|pkcs5padding|pkcs7padding|xor|rc4|3des|desede|salt|iv`)},
		{CatAuth, nil, word(`oauth|jwt|bearer|credential|passwd|apikey|api_key|api-key|authorization|authenticate`)},
		{CatSIM, []string{
			"simcard", "imei", "imsi", "telephon", "subscriberid",
			"getline1", "simoperator", "simcountry", "simserial", "iccid",
		}, nil},
		{CatSMS, []string{
			"sendtextmessage", "smsmanager", "sendsms", "readsms",
			"content://sms", "smsreceived",
		}, word(`sms|mms|pdus`)},
		{CatContacts, []string{
			"contactlist", "addressbook", "calllog", "readcontacts",
			"content://contacts", "content://calllog", "phonelookup",
		}, nil},
		{CatLocation, []string{
			"geolocation", "geofence", "latitude", "longitude",
			"lastknownlocation", "fusedlocation", "locationmanager",
			"requestlocationupdates", "accessfinelocation", "accesscoarselocation",
		}, word(`gps`)},
		{CatDeviceInfo, []string{
			"deviceid", "androidid", "serialnumber", "getserial",
			"getinstalledpackages", "getinstalledapplications",
			"advertisingid", "getadvertisingidinfo", "buildfingerprint",
		}, nil},
		{CatCamera, []string{
			"takepicture", "recordvideo", "mediarecorder", "audiorecord",
			"androidpermissioncamera", "androidpermissionrecordaudio",
		}, nil},
		{CatWebView, []string{
			"loadurl", "evaluatejavascript", "addjavascriptinterface",
			"javascriptinterface", "webviewclient", "webchromeclient",
			"shouldoverrideurlloading", "cookiemanager",
		}, word(`javascript`)},
		{CatClipboard, []string{"clipboard", "primaryclip"}, nil},
		{CatRoot, []string{
			"/system/xbin/su", "/system/bin/su", "/sbin/su", "superuser",
			"magisk", "busybox", "euchainfiresupersu", "testkeys",
		}, nil},
		{CatEmulator, []string{
			"goldfish", "ranchu", "genymotion", "genericx86", "qemu",
			"/dev/socket/qemud", "sdkgphone", "bluestacks",
		}, nil},
		{CatDynLoad, []string{"dexclassloader", "inmemorydexclassloader", "pathclassloader", "loaddex"}, nil},
		{CatExec, []string{"/system/bin/sh", "runtimeexec", "processbuilder", "chmod"}, nil},
		{CatNative, []string{"loadlibrary", "jnionload", "registernatives"}, nil},
	}

	netKeywords = []string{"socket", "connect", "dns", "proxy", "redirect"}
)

// ClassifyString returns the signal categories of a string literal in
// their declaration order. Returns nil if the string carries no signal.
func ClassifyString(value string) []string {
	if len(value) < 2 {
		return nil
	}

	var cats []string
	norm := normalizeForMatch(value)

	if reURL.MatchString(value) {
		cats = append(cats, CatURL)
	}
	if reIPLiteral.MatchString(value) {
		cats = append(cats, CatHost)
	}

	for _, r := range stringRules {
		if r.match(value, norm) {
			cats = append(cats, r.cat)
		}
	}
	if reAuthStandalone.MatchString(value) && !containsCat(cats, CatAuth) {
		cats = append(cats, CatAuth)
	}

	if slices.Contains(httpMethods, value) || containsKeyword(value, netKeywords) {
		cats = append(cats, CatNet)
	}

	lower := strings.ToLower(value)
	for _, ext := range signalExtensions {
		if strings.HasSuffix(lower, ext) || strings.Contains(lower, ext+" ") || strings.Contains(lower, ext+",") {
			cats = append(cats, CatFileExt)
			break
		}
	}

	// High-entropy standalone token. camelCase identifiers share the
	// alphabet but are not keys.
	trimmed := strings.TrimSpace(value)
	if reBase64.MatchString(trimmed) && entropy(value) > 3.5 && !isCamelCase(trimmed) {
		cats = append(cats, CatBase64Key)
	}
	return cats
}

// Severity levels for signal categories.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// CategorySeverity returns the severity level for a category.
func CategorySeverity(cat string) string {
	switch cat {
	case CatEncryption, CatAuth, CatSIM, CatSMS, CatContacts, CatWebView,
		CatRoot, CatEmulator, CatDynLoad, CatExec:
		return SeverityHigh
	case CatURL, CatHost, CatBase64Key, CatLocation, CatDeviceInfo, CatCamera,
		CatClipboard, CatReflection, CatNative:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// MaxSeverity returns the highest severity from a list of categories.
func MaxSeverity(categories []string) string {
	best := SeverityLow
	for _, c := range categories {
		switch CategorySeverity(c) {
		case SeverityHigh:
			return SeverityHigh
		case SeverityMedium:
			best = SeverityMedium
		}
	}
	return best
}

// isCamelCase returns true if the string looks like a camelCase/PascalCase identifier.
// It checks for lowercase-to-uppercase transitions (e.g. "checkSimCard").
func isCamelCase(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] >= 'a' && s[i-1] <= 'z' && s[i] >= 'A' && s[i] <= 'Z' {
			return true
		}
	}
	return false
}

// normalizeForMatch lowercases s and strips underscores, hyphens, spaces
// and dots, so "getDeviceId", "get_device_id" and "get device id" all
// contain "deviceid". Slashes survive so path keywords still match.
func normalizeForMatch(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c != '_' && c != '-' && c != ' ' && c != '.' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// containsKeyword checks if the normalized value contains any keyword.
func containsKeyword(value string, keywords []string) bool {
	norm := normalizeForMatch(value)
	for _, kw := range keywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}

func containsCat(cats []string, cat string) bool {
	return slices.Contains(cats, cat)
}

// entropy computes Shannon entropy of a string in bits per character.
func entropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	n := float64(len(s))
	var ent float64
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / n
		ent -= p * math.Log2(p)
	}
	return ent
}

package patterns

import "strings"

// fileExtensions are the extensions accepted for file-name observables.
// "com" is deliberately absent so example.com stays a domain.
var fileExtensions = setOf(
	// executables and scripts
	"exe", "dll", "sys", "scr", "bat", "cmd", "ps1", "psm1", "vbs", "vbe",
	"wsf", "hta", "jar", "msi", "msix", "lnk", "cpl", "ocx", "drv", "elf",
	"bin", "dylib", "apk", "ipa", "sh", "py", "pyc", "reg", "inf", "chm",
	// archives and disk images
	"zip", "rar", "7z", "gz", "tgz", "tar", "bz2", "xz", "cab", "iso", "img",
	"vhd", "vhdx", "dmg", "pkg", "deb", "rpm",
	// documents
	"doc", "docx", "docm", "dot", "dotm", "xls", "xlsx", "xlsm", "xlsb",
	"ppt", "pptx", "pptm", "pdf", "rtf", "one",
)

// codeExtensions end strings that look like domains but are file or code
// references in page text (jquery.min.js, styles.css, package.json).
var codeExtensions = setOf(
	"js", "mjs", "cjs", "ts", "tsx", "jsx", "css", "scss", "less", "json",
	"xml", "yaml", "yml", "html", "htm", "php", "asp", "aspx", "jsp", "txt",
	"log", "csv", "ini", "cfg", "conf", "png", "jpg", "jpeg", "gif", "svg",
	"webp", "ico", "bmp", "woff", "woff2", "ttf", "map", "vue", "java", "rb",
	"cpp", "cs", "swift", "kt", "lock", "toml",
)

func setOf(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

func inSet(set map[string]struct{}, s string) bool {
	_, ok := set[s]
	return ok
}

// IsFileExtension reports whether ext (without the dot, any case) is an
// accepted file-name extension.
func IsFileExtension(ext string) bool {
	return inSet(fileExtensions, strings.ToLower(ext))
}

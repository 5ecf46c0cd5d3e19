package lifecycle

import "strings"

// FormatPairingCode groups a raw pairing code into 4-character blocks for
// human display (ABCDEFGH -> ABCD-EFGH).
func FormatPairingCode(code string) string {
	code = strings.TrimSpace(code)
	if len(code) <= 4 {
		return code
	}
	var blocks []string
	for i := 0; i < len(code); i += 4 {
		end := i + 4
		if end > len(code) {
			end = len(code)
		}
		blocks = append(blocks, code[i:end])
	}
	return strings.Join(blocks, "-")
}

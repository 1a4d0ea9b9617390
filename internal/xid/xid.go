package xid

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

const codeSuffixLen = 5

// SaleCode renders PREFIX-YYYYMMDD-XXXXX with the date taken in UTC and five
// uppercase base-36 characters.
func SaleCode(prefix string, now time.Time) string {
	var b strings.Builder
	b.Grow(len(prefix) + 1 + 8 + 1 + codeSuffixLen)
	b.WriteString(prefix)
	b.WriteByte('-')
	b.WriteString(now.UTC().Format("20060102"))
	b.WriteByte('-')
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			b.WriteByte(codeAlphabet[time.Now().UnixNano()%int64(len(codeAlphabet))])
			continue
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String()
}

package kernel

import (
	"encoding/hex"
	"strconv"
)

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func decodeHex(s string) ([]byte, error) { return hex.DecodeString(s) }

package httpapi

import "strconv"

func jsonNumber(f float64) string { return strconv.FormatInt(int64(f), 10) }

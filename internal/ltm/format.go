package ltm

import (
	"fmt"
	"strconv"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func memoryID(userID string, seq int64) string {
	return fmt.Sprintf("%s-%d", userID, seq)
}

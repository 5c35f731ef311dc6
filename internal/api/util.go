package api

import (
	"encoding/json"
	"strconv"
)

// mustMarshal renders v as JSON. Every caller passes a value this package
// itself constructs (registry projections, manifests already round-tripped
// through encoding/json), so a marshal failure here would be a programming
// error, not a runtime condition.
func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("api: marshal: " + err.Error())
	}
	return data
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

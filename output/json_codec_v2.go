//go:build jsonv2

package output

import (
	"encoding/json/jsontext"
	jsonv2 "encoding/json/v2"
)

// encodeReport renders doc as indented JSON followed by a newline.
func encodeReport(doc any) ([]byte, error) {
	data, err := jsonv2.Marshal(doc, jsontext.WithIndent("  "))
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

//go:build !jsonv2

package output

import "encoding/json"

// encodeReport renders doc as indented JSON followed by a newline.
func encodeReport(doc any) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

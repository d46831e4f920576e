package elections

import (
	"encoding/json"
	"os"
)

// appendJSON writes the data as a single JSON line to the end of the file,
// creating it if necessary.
func appendJSON(path string, data interface{}) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	var line []byte
	if line, err = json.Marshal(data); err != nil {
		return err
	}

	if _, err = f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

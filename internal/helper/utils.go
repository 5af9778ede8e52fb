package helper

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// recordNamespace scopes RecordID so ids never collide with other v5 uuids.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("rag-assistant/embeddings"))

// RecordID derives a stable uuid from the natural key of a record, so the
// same chunk of the same file always maps to the same id.
func RecordID(content, filename string) string {
	return uuid.NewSHA1(recordNamespace, []byte(filename+"\x00"+content)).String()
}

// CreateFolder makes dir and its parents if missing.
func CreateFolder(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", dir, err)
	}
	return nil
}

// pretty print
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Println(string(b))
}

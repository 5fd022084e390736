package blobfile

import "fmt"

// FileName returns the on-disk path for fileNumber inside dirname, per the
// `{dirname}/{file_number:06}.blob` naming convention (§6).
func FileName(dirname string, fileNumber uint64) string {
	return fmt.Sprintf("%s/%06d.blob", dirname, fileNumber)
}

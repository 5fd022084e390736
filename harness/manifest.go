package harness

// FileManager is the LSM-owned ledger of which blob files exist. A blob
// storage instance calls into it at the three points where a file's
// existence must become durable before the in-memory state machine
// advances (§4.5): allocating a new file number, recording that a batch of
// newly-built files is finished and visible, and recording that a batch of
// obsolete files has been deleted.
type FileManager interface {
	// NewFile allocates and returns the next blob file number for cf. File
	// numbers are assigned from the LSM's single global counter so blob
	// files and SSTables never collide.
	NewFile(cf ColumnFamilyHandle) (fileNumber uint64, err error)

	// BatchFinishFiles durably records that the given file numbers now
	// hold complete, readable blob files ready to be indexed by keys in
	// the LSM (§4.8 phase 3, "install outputs").
	BatchFinishFiles(cf ColumnFamilyHandle, fileNumbers []uint64) error

	// BatchDeleteFiles durably records that the given file numbers are no
	// longer referenced and their backing files have been (or are about
	// to be) removed (§4.8 phase 5, "retire inputs").
	BatchDeleteFiles(cf ColumnFamilyHandle, fileNumbers []uint64) error
}

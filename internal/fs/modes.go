package fs

import "os"

type Modes struct {
	Dir  os.FileMode
	File os.FileMode
}

// DefaultModes are used for bucket directories and bucket files. Bucket files
// are private to the process that created them.
var DefaultModes = Modes{Dir: 0700, File: 0600}

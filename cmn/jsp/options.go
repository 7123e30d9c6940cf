package jsp

// Options controls how Encode/Decode frame a value: whether to sign the
// written file with a content checksum and which metadata version to stamp
// it with (the "CCSign" convention: Checksum + Signature).
type Options struct {
	Checksum  bool
	Signature bool
	Metaver   int
}

// Opts is implemented by any value that knows its own persistence options
// (manifests, labels, persisted chains).
type Opts interface {
	JspOpts() Options
}

// CCSign returns the standard "checksum + signature" options; the content
// store's label records are written with them.
func CCSign(metaver int) Options {
	return Options{Checksum: true, Signature: true, Metaver: metaver}
}

// Plain returns options with neither a signature nor a checksum - used for
// values that are already content-addressed by an external hash (e.g. a
// blob whose path IS its checksum, so a second one would be redundant).
func Plain() Options {
	return Options{}
}

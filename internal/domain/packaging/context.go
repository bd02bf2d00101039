package packaging

// Context carries build facts that every packager needs besides the model.
type Context struct {
	// BuildDir is the native build output directory.
	BuildDir string
	// Triple is the target triple of the native build.
	Triple string
	// Profile is the native build profile.
	Profile Profile
	// Version is the package version from the project manifest.
	Version string
	// EngineVersion is the resolved engine version.
	EngineVersion string
}

// Signature describes what happened to a signing request.
type Signature string

const (
	// SignatureNotRequested means the package was built unsigned on purpose.
	SignatureNotRequested Signature = "not-requested"
	// SignatureSigned means the package was signed.
	SignatureSigned Signature = "signed"
	// SignatureUnsupported means signing was requested but the format
	// has no usable signing setup.
	SignatureUnsupported Signature = "unsupported"
)

// Artifact is the installable file produced by a packager.
type Artifact struct {
	// Format is the registry name of the packager that built it.
	Format string
	// Path is the location of the produced file.
	Path string
	// Signature reports the outcome of the signing request.
	Signature Signature
}

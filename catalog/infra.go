package catalog

// CredentialKind names the cloud identity backing a storage credential.
type CredentialKind string

const (
	CredentialAzureManagedIdentity CredentialKind = "AZURE_MANAGED_IDENTITY"
	CredentialAwsIamRole           CredentialKind = "AWS_IAM_ROLE"
	CredentialGcpServiceAccount    CredentialKind = "GCP_SERVICE_ACCOUNT"
)

// StorageCredential is a top-level infrastructure resource granting the
// metastore access to cloud storage.
type StorageCredential struct {
	base
	Kind         CredentialKind
	CredentialID string
}

// NewStorageCredential creates a storage credential descriptor.
func NewStorageCredential(name string, kind CredentialKind, credentialID string) *StorageCredential {
	return &StorageCredential{
		base:         newBase(TypeStorageCredential, name),
		Kind:         kind,
		CredentialID: credentialID,
	}
}

// NewStorageCredentialReference declares an externally-managed credential.
func NewStorageCredentialReference(name string) *StorageCredential {
	c := NewStorageCredential(name, "", "")
	c.Reference = true
	c.AddEnvironmentSuffix = false
	return c
}

func (c *StorageCredential) Type() ResourceType { return TypeStorageCredential }

// ExternalLocation binds a storage path to a credential.
type ExternalLocation struct {
	base
	URL            string
	CredentialName string
	ReadOnly       bool
}

// NewExternalLocation creates an external location descriptor.
func NewExternalLocation(name, url, credentialName string) *ExternalLocation {
	l := &ExternalLocation{
		base:           newBase(TypeExternalLocation, name),
		URL:            url,
		CredentialName: credentialName,
	}
	l.StorageLocation = url
	return l
}

// NewExternalLocationReference declares an externally-managed location.
func NewExternalLocationReference(name string) *ExternalLocation {
	l := NewExternalLocation(name, "", "")
	l.Reference = true
	l.AddEnvironmentSuffix = false
	return l
}

func (l *ExternalLocation) Type() ResourceType { return TypeExternalLocation }

// Connection is a top-level connection to an external data source.
type Connection struct {
	base
	ConnectionType string
	Options        map[string]string
}

// NewConnection creates a connection descriptor.
func NewConnection(name, connectionType string, options map[string]string) *Connection {
	return &Connection{
		base:           newBase(TypeConnection, name),
		ConnectionType: connectionType,
		Options:        options,
	}
}

// NewConnectionReference declares an externally-managed connection.
func NewConnectionReference(name string) *Connection {
	c := NewConnection(name, "", nil)
	c.Reference = true
	c.AddEnvironmentSuffix = false
	return c
}

func (c *Connection) Type() ResourceType { return TypeConnection }

// IsInfrastructure reports whether rt is a top-level infrastructure type.
func IsInfrastructure(rt ResourceType) bool {
	switch rt {
	case TypeStorageCredential, TypeExternalLocation, TypeConnection:
		return true
	}
	return false
}

// IsComputeAsset reports whether rt carries object-level ACLs through the
// permissions API instead of catalog grants.
func IsComputeAsset(rt ResourceType) bool {
	switch rt {
	case TypeSpace, TypeVectorEndpoint:
		return true
	}
	return false
}

// IsContainer reports whether rt may hold children.
func IsContainer(rt ResourceType) bool {
	_, ok := validChildren[rt]
	return ok
}

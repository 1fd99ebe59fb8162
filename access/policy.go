package access

import (
	"github.com/CauchyIO/brickkit/catalog"
)

// Policy is a named, reusable bundle mapping resource types to privilege
// sets. Granting a policy expands it to the concrete privileges valid for
// the target's type.
type Policy struct {
	Name       string
	Privileges map[catalog.ResourceType][]catalog.Privilege
}

// Canonical policies.
var (
	// Reader grants read-style access across the hierarchy.
	Reader = Policy{
		Name: "READER",
		Privileges: map[catalog.ResourceType][]catalog.Privilege{
			catalog.TypeCatalog:        {catalog.PrivilegeUseCatalog, catalog.PrivilegeUseSchema, catalog.PrivilegeBrowse, catalog.PrivilegeSelect, catalog.PrivilegeReadVolume, catalog.PrivilegeExecute},
			catalog.TypeSchema:         {catalog.PrivilegeUseSchema, catalog.PrivilegeBrowse, catalog.PrivilegeSelect, catalog.PrivilegeReadVolume, catalog.PrivilegeExecute},
			catalog.TypeTable:          {catalog.PrivilegeSelect},
			catalog.TypeVolume:         {catalog.PrivilegeReadVolume},
			catalog.TypeFunction:       {catalog.PrivilegeExecute},
			catalog.TypeModel:          {catalog.PrivilegeExecute},
			catalog.TypeSpace:          {catalog.PrivilegeCanView},
			catalog.TypeVectorEndpoint: {catalog.PrivilegeCanUse},
			catalog.TypeVectorIndex:    {catalog.PrivilegeSelect},
		},
	}

	// Writer extends Reader with mutation privileges.
	Writer = Policy{
		Name: "WRITER",
		Privileges: map[catalog.ResourceType][]catalog.Privilege{
			catalog.TypeCatalog:        {catalog.PrivilegeUseCatalog, catalog.PrivilegeUseSchema, catalog.PrivilegeSelect, catalog.PrivilegeModify, catalog.PrivilegeReadVolume, catalog.PrivilegeWriteVolume, catalog.PrivilegeExecute, catalog.PrivilegeCreateTable, catalog.PrivilegeCreateVolume, catalog.PrivilegeCreateFunction},
			catalog.TypeSchema:         {catalog.PrivilegeUseSchema, catalog.PrivilegeSelect, catalog.PrivilegeModify, catalog.PrivilegeReadVolume, catalog.PrivilegeWriteVolume, catalog.PrivilegeExecute, catalog.PrivilegeCreateTable, catalog.PrivilegeCreateVolume, catalog.PrivilegeCreateFunction},
			catalog.TypeTable:          {catalog.PrivilegeSelect, catalog.PrivilegeModify},
			catalog.TypeVolume:         {catalog.PrivilegeReadVolume, catalog.PrivilegeWriteVolume},
			catalog.TypeFunction:       {catalog.PrivilegeExecute},
			catalog.TypeModel:          {catalog.PrivilegeExecute},
			catalog.TypeSpace:          {catalog.PrivilegeCanRun, catalog.PrivilegeCanEdit},
			catalog.TypeVectorEndpoint: {catalog.PrivilegeCanUse},
			catalog.TypeVectorIndex:    {catalog.PrivilegeSelect, catalog.PrivilegeCanUse},
		},
	}

	// OwnerAdmin grants full management.
	OwnerAdmin = Policy{
		Name: "OWNER_ADMIN",
		Privileges: map[catalog.ResourceType][]catalog.Privilege{
			catalog.TypeCatalog:           {catalog.PrivilegeAllPrivileges, catalog.PrivilegeManage},
			catalog.TypeSchema:            {catalog.PrivilegeAllPrivileges, catalog.PrivilegeManage},
			catalog.TypeTable:             {catalog.PrivilegeAllPrivileges, catalog.PrivilegeManage},
			catalog.TypeVolume:            {catalog.PrivilegeAllPrivileges, catalog.PrivilegeManage},
			catalog.TypeFunction:          {catalog.PrivilegeAllPrivileges, catalog.PrivilegeManage},
			catalog.TypeModel:             {catalog.PrivilegeAllPrivileges, catalog.PrivilegeManage},
			catalog.TypeSpace:             {catalog.PrivilegeCanManage},
			catalog.TypeVectorEndpoint:    {catalog.PrivilegeCanManage},
			catalog.TypeVectorIndex:       {catalog.PrivilegeCanManage},
			catalog.TypeStorageCredential: {catalog.PrivilegeAllPrivileges, catalog.PrivilegeManage},
			catalog.TypeExternalLocation:  {catalog.PrivilegeAllPrivileges, catalog.PrivilegeManage},
			catalog.TypeConnection:        {catalog.PrivilegeCanManage},
		},
	}
)

// Custom builds a tunable policy from an explicit mapping.
func Custom(name string, privileges map[catalog.ResourceType][]catalog.Privilege) Policy {
	return Policy{Name: name, Privileges: privileges}
}

// Expand returns the concrete privileges the policy carries for rt,
// filtered to the valid set for that type.
func (p Policy) Expand(rt catalog.ResourceType) []catalog.Privilege {
	var out []catalog.Privilege
	for _, priv := range p.Privileges[rt] {
		if ValidPrivilege(priv, rt) {
			out = append(out, priv)
		}
	}
	return out
}

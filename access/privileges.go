// Package access implements the engine's access model: per-resource-type
// privilege validity, reusable access policies, grant operations with
// hierarchy propagation, access requests, time-bounded grants, and
// tag-driven ABAC policies.
package access

import (
	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

type privilegeSet map[catalog.Privilege]bool

func set(ps ...catalog.Privilege) privilegeSet {
	s := make(privilegeSet, len(ps))
	for _, p := range ps {
		s[p] = true
	}
	return s
}

// validPrivileges constrains each privilege to the resource types that
// accept it on the backend.
var validPrivileges = map[catalog.ResourceType]privilegeSet{
	catalog.TypeMetastore: set(
		catalog.PrivilegeCreateCatalog, catalog.PrivilegeCreateExternalTable,
		catalog.PrivilegeManage, catalog.PrivilegeAllPrivileges,
	),
	catalog.TypeCatalog: set(
		catalog.PrivilegeUseCatalog, catalog.PrivilegeUseSchema, catalog.PrivilegeBrowse,
		catalog.PrivilegeSelect, catalog.PrivilegeModify, catalog.PrivilegeExecute,
		catalog.PrivilegeReadVolume, catalog.PrivilegeWriteVolume,
		catalog.PrivilegeCreateSchema, catalog.PrivilegeCreateTable, catalog.PrivilegeCreateVolume,
		catalog.PrivilegeCreateFunction, catalog.PrivilegeCreateModel,
		catalog.PrivilegeApplyTag, catalog.PrivilegeManage, catalog.PrivilegeAllPrivileges,
	),
	catalog.TypeSchema: set(
		catalog.PrivilegeUseSchema, catalog.PrivilegeBrowse,
		catalog.PrivilegeSelect, catalog.PrivilegeModify, catalog.PrivilegeExecute,
		catalog.PrivilegeReadVolume, catalog.PrivilegeWriteVolume,
		catalog.PrivilegeCreateTable, catalog.PrivilegeCreateVolume,
		catalog.PrivilegeCreateFunction, catalog.PrivilegeCreateModel,
		catalog.PrivilegeApplyTag, catalog.PrivilegeManage, catalog.PrivilegeAllPrivileges,
	),
	catalog.TypeTable: set(
		catalog.PrivilegeSelect, catalog.PrivilegeModify, catalog.PrivilegeBrowse,
		catalog.PrivilegeApplyTag, catalog.PrivilegeManage, catalog.PrivilegeAllPrivileges,
		catalog.PrivilegeIsOwner,
	),
	catalog.TypeVolume: set(
		catalog.PrivilegeReadVolume, catalog.PrivilegeWriteVolume, catalog.PrivilegeBrowse,
		catalog.PrivilegeApplyTag, catalog.PrivilegeManage, catalog.PrivilegeAllPrivileges,
	),
	catalog.TypeFunction: set(
		catalog.PrivilegeExecute, catalog.PrivilegeBrowse,
		catalog.PrivilegeApplyTag, catalog.PrivilegeManage, catalog.PrivilegeAllPrivileges,
	),
	catalog.TypeModel: set(
		catalog.PrivilegeExecute, catalog.PrivilegeBrowse,
		catalog.PrivilegeApplyTag, catalog.PrivilegeManage, catalog.PrivilegeAllPrivileges,
	),
	catalog.TypeSpace: set(
		catalog.PrivilegeCanRead, catalog.PrivilegeCanRun, catalog.PrivilegeCanEdit,
		catalog.PrivilegeCanManage, catalog.PrivilegeCanView,
	),
	catalog.TypeVectorEndpoint: set(
		catalog.PrivilegeCanUse, catalog.PrivilegeCanManage, catalog.PrivilegeCanRestart,
		catalog.PrivilegeCanCreate,
	),
	catalog.TypeVectorIndex: set(
		catalog.PrivilegeSelect, catalog.PrivilegeCanUse, catalog.PrivilegeCanManage,
	),
	catalog.TypeStorageCredential: set(
		catalog.PrivilegeCreateExternalTable, catalog.PrivilegeReadFiles,
		catalog.PrivilegeBrowse, catalog.PrivilegeManage, catalog.PrivilegeAllPrivileges,
	),
	catalog.TypeExternalLocation: set(
		catalog.PrivilegeCreateExternalTable, catalog.PrivilegeReadFiles,
		catalog.PrivilegeBrowse, catalog.PrivilegeManage, catalog.PrivilegeAllPrivileges,
	),
	catalog.TypeConnection: set(
		catalog.PrivilegeCanUse, catalog.PrivilegeCanBind, catalog.PrivilegeCanManage,
		catalog.PrivilegeCanCreate,
	),
}

// ValidPrivilege reports whether p may be granted on resource type rt.
func ValidPrivilege(p catalog.Privilege, rt catalog.ResourceType) bool {
	s, ok := validPrivileges[rt]
	return ok && s[p]
}

// ValidatePrivileges rejects any privilege outside rt's valid set.
func ValidatePrivileges(rt catalog.ResourceType, ps []catalog.Privilege) error {
	for _, p := range ps {
		if !ValidPrivilege(p, rt) {
			return errors.InvalidPrivilege(string(p), string(rt))
		}
	}
	return nil
}

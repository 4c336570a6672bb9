package rbac

// Simple default policy. Learners progress through trainings; managers own
// the catalog and privileged actions like enrollment resets.
var RolePermissions = map[string][]string{
	"learner": {
		"progress:view",
		"module:view",
		"module:complete",
		"quiz:view",
		"quiz:attempt",
		"attempt:list-own",
		"certificate:view-own",
		"certificate:issue-own",
	},
	"manager": {
		"progress:view",
		"training:create",
		"training:publish",
		"training:archive",
		"enrollment:reset",
		"attempt:list-all",
		"certificate:view-all",
		"certificate:issue-all",
	},
	"admin": {
		"*", // everything
	},
}

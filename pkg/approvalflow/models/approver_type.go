package models

// Approver types form a closed set; each variant carries only the step fields
// it needs (role id for ApproverRole, user id for ApproverUser, nothing for
// the directory-backed variants).
const (
	ApproverReportingManager = "reporting_manager"
	ApproverHRManager        = "hr_manager"
	ApproverDepartmentHead   = "department_head"
	ApproverRole             = "role"
	ApproverUser             = "user"
)

// ValidApproverType reports whether t is one of the five known variants.
func ValidApproverType(t string) bool {
	switch t {
	case ApproverReportingManager, ApproverHRManager, ApproverDepartmentHead, ApproverRole, ApproverUser:
		return true
	}
	return false
}

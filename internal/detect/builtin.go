package detect

import "cloudscope/internal/schema"

// BuiltinRules returns the pre-built rule set shipped with the tool.
// Loading them upserts by name, so local edits to a shipped rule
// survive only under a different name.
func BuiltinRules() []schema.DetectionRule {
	var rules []schema.DetectionRule
	rules = append(rules, builtinAWSRules()...)
	rules = append(rules, builtinAzureRules()...)
	return rules
}

func builtinAWSRules() []schema.DetectionRule {
	return []schema.DetectionRule{
		{
			Name:          "aws-console-login-no-mfa",
			Description:   "Console login without multi-factor authentication",
			Cloud:         schema.ProviderAWS,
			DetectionType: "initial-access",
			Severity:      schema.SeverityHigh,
			EventSource:   "signin.amazonaws.com",
			EventName:     "ConsoleLogin",
			AdditionalCriteria: map[string]string{
				CriterionRawContains: `"MFAUsed": "No"`,
			},
			AutoTags: []string{"Suspicious", "No MFA"},
			Enabled:  true,
		},
		{
			Name:          "aws-root-activity",
			Description:   "Any API activity performed by the root account",
			Cloud:         schema.ProviderAWS,
			DetectionType: "privilege-abuse",
			Severity:      schema.SeverityHigh,
			AdditionalCriteria: map[string]string{
				CriterionUserIdentity: "Root",
			},
			AutoTags: []string{"Root Activity"},
			Enabled:  true,
		},
		{
			Name:          "aws-cloudtrail-tamper",
			Description:   "CloudTrail logging stopped or trail deleted",
			Cloud:         schema.ProviderAWS,
			DetectionType: "defense-evasion",
			Severity:      schema.SeverityCritical,
			EventSource:   "cloudtrail.amazonaws.com",
			EventName:     "StopLogging",
			AutoTags:      []string{"Defense Evasion"},
			Enabled:       true,
		},
		{
			Name:          "aws-cloudtrail-delete",
			Description:   "CloudTrail trail deleted",
			Cloud:         schema.ProviderAWS,
			DetectionType: "defense-evasion",
			Severity:      schema.SeverityCritical,
			EventSource:   "cloudtrail.amazonaws.com",
			EventName:     "DeleteTrail",
			AutoTags:      []string{"Defense Evasion"},
			Enabled:       true,
		},
		{
			Name:          "aws-iam-user-created",
			Description:   "New IAM user created, a common persistence step",
			Cloud:         schema.ProviderAWS,
			DetectionType: "persistence",
			Severity:      schema.SeverityMedium,
			EventSource:   "iam.amazonaws.com",
			EventName:     "CreateUser",
			AutoTags:      []string{"Persistence"},
			Enabled:       true,
		},
		{
			Name:          "aws-access-key-created",
			Description:   "New long-lived access key created",
			Cloud:         schema.ProviderAWS,
			DetectionType: "persistence",
			Severity:      schema.SeverityMedium,
			EventSource:   "iam.amazonaws.com",
			EventName:     "CreateAccessKey",
			AutoTags:      []string{"Persistence"},
			Enabled:       true,
		},
	}
}

func builtinAzureRules() []schema.DetectionRule {
	return []schema.DetectionRule{
		{
			Name:          "azure-vm-deleted",
			Description:   "Virtual machine deleted",
			Cloud:         schema.ProviderAzure,
			DetectionType: "impact",
			Severity:      schema.SeverityHigh,
			EventName:     "Microsoft.Compute/virtualMachines/delete",
			AutoTags:      []string{"Destructive Action"},
			Enabled:       true,
		},
		{
			Name:          "azure-role-assignment",
			Description:   "New role assignment granting subscription access",
			Cloud:         schema.ProviderAzure,
			DetectionType: "privilege-escalation",
			Severity:      schema.SeverityHigh,
			EventName:     "Microsoft.Authorization/roleAssignments/write",
			AutoTags:      []string{"Privilege Escalation"},
			Enabled:       true,
		},
		{
			Name:          "azure-activity-log-alert-delete",
			Description:   "Activity log alert rule removed",
			Cloud:         schema.ProviderAzure,
			DetectionType: "defense-evasion",
			Severity:      schema.SeverityMedium,
			EventName:     "Microsoft.Insights/activityLogAlerts/delete",
			AutoTags:      []string{"Defense Evasion"},
			Enabled:       true,
		},
	}
}

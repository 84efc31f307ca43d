package prompt

// Template names.
const (
	System  = "system.md"
	Analyze = "analyze.md"
)

var builtinTemplates = map[string]string{
	System:  systemTemplate,
	Analyze: analyzeTemplate,
}

const systemTemplate = `You are a Senior DevOps Engineer and Site Reliability Engineer (SRE) assistant.
You are embedded within a DevOps simulation dashboard.
Your goal is to explain concepts like CI/CD, Docker, Kubernetes, Prometheus, Grafana, and Git workflows to users.
You are also an expert in Apache Maven for build automation.
If the user asks about a specific error in a build log, analyze it as if it were a real software failure.
Keep responses concise, technical but accessible, and helpful.`

const analyzeTemplate = `Analyze the following CI/CD build logs and explain what went wrong or summarize the success.
Provide actionable advice if there is a failure.

LOGS:
{{logs}}
`

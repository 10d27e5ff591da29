package scanner

import "regexp"

// ViolationCategory groups static patterns by the class of threat they catch.
type ViolationCategory string

const (
	CategoryDynamicCode ViolationCategory = "DYNAMIC_CODE_LOADING"
	CategoryShellSpawn  ViolationCategory = "SHELL_PROCESS_SPAWN"
	CategoryFSEscape    ViolationCategory = "FILESYSTEM_ESCAPE"
	CategoryNetBackdoor ViolationCategory = "NETWORK_BACKDOOR"
	CategoryEnvExfil    ViolationCategory = "ENV_EXFILTRATION"
	CategoryObfuscation ViolationCategory = "OBFUSCATION"
)

// staticRule is one entry of the fixed blocklist. A match rejects the
// submission outright; the blocklist has no advisory tier.
type staticRule struct {
	name     string
	category ViolationCategory
	re       *regexp.Regexp
}

// staticRules is the phase-1 blocklist. Patterns are matched against the
// raw submission, case-insensitively where the construct is case-insensitive
// in its host language.
var staticRules = []staticRule{
	// Dynamic code loading.
	{"eval-call", CategoryDynamicCode, regexp.MustCompile(`\beval\s*\(`)},
	{"exec-call", CategoryDynamicCode, regexp.MustCompile(`\bexec\s*\(`)},
	{"function-constructor", CategoryDynamicCode, regexp.MustCompile(`new\s+Function\s*\(`)},
	{"dynamic-import", CategoryDynamicCode, regexp.MustCompile(`\b__import__\s*\(`)},
	{"importlib", CategoryDynamicCode, regexp.MustCompile(`\bimportlib\.(?:import_module|__import__)`)},
	{"require-variable", CategoryDynamicCode, regexp.MustCompile(`\brequire\s*\(\s*[^"'\)]`)},
	{"vm-module", CategoryDynamicCode, regexp.MustCompile(`\bvm\.(?:runInNewContext|runInThisContext|compileFunction)`)},

	// Shell and process spawning.
	{"subprocess", CategoryShellSpawn, regexp.MustCompile(`\bsubprocess\.(?:run|call|Popen|check_output)`)},
	{"os-system", CategoryShellSpawn, regexp.MustCompile(`\bos\.(?:system|popen|execv?p?e?)\s*\(`)},
	{"child-process", CategoryShellSpawn, regexp.MustCompile(`\bchild_process\b|\brequire\s*\(\s*["']child_process["']`)},
	{"shell-invocation", CategoryShellSpawn, regexp.MustCompile(`(?:^|[;&|]\s*)(?:/bin/)?(?:ba|z|da)?sh\s+-c\b`)},
	{"process-spawn", CategoryShellSpawn, regexp.MustCompile(`\b(?:spawn|spawnSync|execFile|execSync)\s*\(`)},

	// Filesystem escape.
	{"path-traversal", CategoryFSEscape, regexp.MustCompile(`\.\./\.\./`)},
	{"system-paths", CategoryFSEscape, regexp.MustCompile(`(?:open|readFile|read_text|ioutil\.ReadFile)\s*\(\s*["']/(?:etc|proc|sys|root)/`)},
	{"passwd-shadow", CategoryFSEscape, regexp.MustCompile(`/etc/(?:passwd|shadow|sudoers)`)},
	{"world-writable", CategoryFSEscape, regexp.MustCompile(`\bchmod\s*\(?\s*(?:["']?0?777|0o777)`)},

	// Network backdoors.
	{"socket-listen", CategoryNetBackdoor, regexp.MustCompile(`\bsocket\s*\([^)]*\)[\s\S]{0,120}?\.(?:bind|listen)\s*\(`)},
	{"bind-all-interfaces", CategoryNetBackdoor, regexp.MustCompile(`(?:bind|listen)[^;\n]{0,60}["']0\.0\.0\.0["']`)},
	{"reverse-shell", CategoryNetBackdoor, regexp.MustCompile(`\bnc\s+(?:-[a-z]*e[a-z]*\s|.*\s-e\s)|/dev/tcp/`)},
	{"raw-connect-exec", CategoryNetBackdoor, regexp.MustCompile(`connect\s*\([^)]*\)[\s\S]{0,160}?(?:exec|system|spawn)`)},

	// Environment exfiltration.
	{"env-dump", CategoryEnvExfil, regexp.MustCompile(`\bos\.environ\b|\bprocess\.env\b|\bprintenv\b|/proc/self/environ`)},
	{"env-post", CategoryEnvExfil, regexp.MustCompile(`(?:environ|process\.env|getenv)[\s\S]{0,200}?(?:http\.post|fetch\s*\(|requests\.post|XMLHttpRequest)`)},
	{"credential-grep", CategoryEnvExfil, regexp.MustCompile(`(?i)(?:AWS_SECRET_ACCESS_KEY|GITHUB_TOKEN|PRIVATE[_-]?KEY)\b[\s\S]{0,120}?(?:http|send|post|upload)`)},
}

// API route declarations used by the code generator to produce typed TS and Kotlin clients.
package v1

import (
	"reflect"
	"strings"
)

// Route describes a single API endpoint for code generation.
type Route struct {
	Name    string       // Function name, e.g. "listTasks"
	Method  string       // "GET", "POST", or "DELETE"
	Path    string       // "/api/v1/tasks/{id}/input"
	Req     reflect.Type // Request body type; nil for no body.
	Resp    reflect.Type // Response body type.
	IsArray bool         // response is T[] not T
	IsSSE   bool         // SSE stream, not JSON
}

// ReqName returns the request type name, or "" if Req is nil.
func (r *Route) ReqName() string {
	if r.Req == nil {
		return ""
	}
	return r.Req.Name()
}

// RespName returns the response type name.
func (r *Route) RespName() string {
	return r.Resp.Name()
}

// CategoryName returns the doc section derived from the first path segment
// after "/api/v1/", with the first letter uppercased.
// For example "/api/v1/tasks/{id}/input" → "Tasks".
func (r *Route) CategoryName() string {
	// Strip "/api/v1/" prefix, take the first segment.
	p := strings.TrimPrefix(r.Path, "/api/v1/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "Other"
	}
	return strings.ToUpper(p[:1]) + p[1:]
}

// Routes is the authoritative list of API endpoints. The gen-api-sdk
// tool reads this slice to generate the typed TypeScript and Kotlin clients.
var Routes = []Route{
	{Name: "createTask", Method: "POST", Path: "/api/v1/tasks", Req: reflect.TypeFor[CreateTaskReq](), Resp: reflect.TypeFor[CreateTaskResp]()},
	{Name: "listTasks", Method: "GET", Path: "/api/v1/tasks", Resp: reflect.TypeFor[TaskJSON](), IsArray: true},
	{Name: "taskEvents", Method: "GET", Path: "/api/v1/tasks/{id}/events", Resp: reflect.TypeFor[EventMessage](), IsSSE: true},
	{Name: "sendInput", Method: "POST", Path: "/api/v1/tasks/{id}/input", Req: reflect.TypeFor[InputReq](), Resp: reflect.TypeFor[StatusResp]()},
	{Name: "stopTask", Method: "POST", Path: "/api/v1/tasks/{id}/stop", Req: reflect.TypeFor[EmptyReq](), Resp: reflect.TypeFor[StatusResp]()},
	{Name: "killTask", Method: "POST", Path: "/api/v1/tasks/{id}/kill", Req: reflect.TypeFor[EmptyReq](), Resp: reflect.TypeFor[StatusResp]()},
	{Name: "deleteTask", Method: "DELETE", Path: "/api/v1/tasks/{id}", Resp: reflect.TypeFor[StatusResp]()},
	{Name: "getTaskDiff", Method: "GET", Path: "/api/v1/tasks/{id}/diff", Resp: reflect.TypeFor[DiffResp]()},
	{Name: "answerUserInput", Method: "POST", Path: "/api/v1/tasks/{id}/user-input/{requestId}", Req: reflect.TypeFor[UserInputAnswerReq](), Resp: reflect.TypeFor[StatusResp]()},
}

// Package cond implements the condition algebra that drives dispatch and
// termination.
//
// A Condition observes an Env (clock, task caches, log repository, session
// parameters) and reports true or false. Leaves are statements; All, Any and
// Not compose them. Strings are turned into conditions by Parser.
package cond

// Package rule implements the notification rule model: leaf predicates over
// a RouteContext, the all_of/any_of/not combinators, the two dynamic
// condition tiers, and the configuration validator.
//
// Rules are built from RuleConfig trees through an explicit Registry value —
// there is no ambient global registration. The validator checks a raw config
// tree exhaustively at load time (unknown types, missing params, reserved
// names, depth/fan-out/count limits, circular references) so that evaluation
// can trust the config and stay side-effect free.
package rule

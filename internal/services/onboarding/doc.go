// Package onboarding groups the user onboarding service: a sequential
// question wizard that collects profile answers, followed by a linking
// screen that binds third-party identities and a wallet to the collected
// email before handing the user off to their profile.
package onboarding

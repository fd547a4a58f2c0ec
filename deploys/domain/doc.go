// Package domain define os tipos e contratos da alocação de slots de deploy.
//
// Este pacote não depende de net/http nem de backends concretos (Redis, arquivo).
// A intenção é permitir testes de unidade puros da regra de alocação.
package domain

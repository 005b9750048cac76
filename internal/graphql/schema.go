package graphql

const schemaSDL = `
schema {
	query: Query
	mutation: Mutation
}

scalar Time

enum Role {
	User
	Doctor
}

type Operation {
	date: Time!
	description: String!
	photos: [String!]!
}

type Visit {
	date: Time!
	diagnosis: String
	description: String!
	files: [String!]!
}

type MedicalCategory {
	category: String!
	diagnoses: [String!]!
	visits: [Visit!]!
}

type Experience {
	description: String!
	startDate: String!
	endDate: String
}

type User {
	id: ID!
	email: String
	role: Role
	firstName: String
	lastName: String
	middleName: String
	bloodGroup: String
	birthDate: Time
	phone: String
	gender: String
	allergies: [String!]!
	operations: [Operation!]!
	medicalCategories: [MedicalCategory!]!
	certificates: [String!]!
	experience: [Experience!]!
	position: String
	sharedWith: [ID!]!
	createdAt: Time!
	updatedAt: Time!
}

type AuthPayload {
	accessToken: String!
	refreshToken: String!
	user: User!
}

type UserPage {
	items: [User!]!
	total: Int!
	page: Int!
	limit: Int!
}

input OperationInput {
	date: Time!
	description: String!
	photos: [String!]
}

input VisitInput {
	date: Time!
	diagnosis: String
	description: String!
	files: [String!]
}

input MedicalCategoryInput {
	category: String!
	diagnoses: [String!]
	visits: [VisitInput!]
}

input ExperienceInput {
	description: String!
	startDate: String!
	endDate: String
}

input UpdateUserInput {
	firstName: String
	lastName: String
	middleName: String
	bloodGroup: String
	birthDate: Time
	phone: String
	gender: String
	allergies: [String!]
	operations: [OperationInput!]
	medicalCategories: [MedicalCategoryInput!]
	certificates: [String!]
	experience: [ExperienceInput!]
	position: String
}

type Query {
	me: User!
	getUser(id: ID!): User!
	getUsers(role: Role, position: String, search: String, page: Int, limit: Int): UserPage!
	getSharedCards(doctorId: ID!, search: String, page: Int, limit: Int): UserPage!
}

type Mutation {
	sendCode(email: String!): String!
	verifyCodeAndRegister(email: String!, code: String!, password: String!): AuthPayload!
	login(email: String!, password: String!): AuthPayload!
	refreshToken(token: String!): String!
	changePassword(email: String!, currentPassword: String!, newPassword: String!): String!
	changeEmail(currentEmail: String!, newEmail: String!, code: String!): String!
	updateUser(id: ID!, input: UpdateUserInput!): User!
	setRole(id: ID!, role: Role!): User!
	shareCard(patientId: ID!, doctorId: ID!): String!
}
`
